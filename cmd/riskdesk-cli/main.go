package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"riskdesk/internal/domain"
	"riskdesk/pkg/riskdesk"
)

const version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: riskdesk-cli [-addr host:port] <command> [args]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version                                   Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  orders [status]                           List orders, optionally by status\n")
	fmt.Fprintf(os.Stderr, "  place <buy|sell> <symbol> <qty> [limit] [stop]\n")
	fmt.Fprintf(os.Stderr, "                                            Place market, limit, stop, or stop-limit order\n")
	fmt.Fprintf(os.Stderr, "  cancel <id>                               Cancel an open order\n")
	fmt.Fprintf(os.Stderr, "  portfolio                                 Show portfolio analytics\n")
	fmt.Fprintf(os.Stderr, "  rebalance [threshold]                     Rebalance toward the configured target\n")
	fmt.Fprintf(os.Stderr, "\n")
	flag.PrintDefaults()
}

func main() {
	addr := flag.String("addr", envOr("RISKDESK_ADDR", "localhost:9090"), "riskdesk-trader gRPC address")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	if args[0] == "version" {
		fmt.Printf("riskdesk-cli %s\n", version)
		return
	}

	client, err := riskdesk.Dial(*addr)
	if err != nil {
		fatalf("%v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch args[0] {
	case "orders":
		var req riskdesk.ListOrdersRequest
		if len(args) > 1 {
			req.Status = domain.OrderStatus(args[1])
		}
		orders, err := client.ListOrders(ctx, req)
		if err != nil {
			fatalf("orders: %v", err)
		}
		printOrders(orders)

	case "place":
		req, err := parsePlace(args[1:])
		if err != nil {
			fmt.Fprintf(os.Stderr, "place: %v\n\n", err)
			usage()
			os.Exit(1)
		}
		id, err := client.PlaceOrder(ctx, req)
		if err != nil {
			fatalf("place: %v", err)
		}
		fmt.Printf("order %d submitted\n", id)

	case "cancel":
		if len(args) < 2 {
			fatalf("cancel: missing order id")
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			fatalf("cancel: invalid order id %q", args[1])
		}
		if err := client.CancelOrder(ctx, id); err != nil {
			fatalf("cancel: %v", err)
		}
		fmt.Printf("order %d cancelled\n", id)

	case "portfolio":
		resp, err := client.GetPortfolio(ctx)
		if err != nil {
			fatalf("portfolio: %v", err)
		}
		printJSON(resp)

	case "rebalance":
		var req riskdesk.RebalanceRequest
		if len(args) > 1 {
			th, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				fatalf("rebalance: invalid threshold %q", args[1])
			}
			req.Threshold = &th
		}
		resp, err := client.Rebalance(ctx, req)
		if err != nil {
			fatalf("rebalance: %v", err)
		}
		printJSON(resp)

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		usage()
		os.Exit(1)
	}
}

// parsePlace reads "<side> <symbol> <qty> [limit] [stop]". The order type
// follows from which prices are given.
func parsePlace(args []string) (riskdesk.PlaceOrderRequest, error) {
	var req riskdesk.PlaceOrderRequest
	if len(args) < 3 {
		return req, fmt.Errorf("expected <buy|sell> <symbol> <qty>")
	}
	req.Side = domain.OrderSide(args[0])
	req.Symbol = args[1]

	prices := make([]float64, 0, 3)
	for _, a := range args[2:] {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return req, fmt.Errorf("invalid number %q", a)
		}
		prices = append(prices, v)
	}
	req.Qty = prices[0]

	switch len(prices) {
	case 1:
		req.Type = domain.OrderTypeMarket
	case 2:
		req.Type = domain.OrderTypeLimit
		req.LimitPrice = prices[1]
	case 3:
		req.LimitPrice, req.StopPrice = prices[1], prices[2]
		req.Type = domain.OrderTypeStopLimit
		if req.LimitPrice == 0 {
			req.Type = domain.OrderTypeStop
		}
	default:
		return req, fmt.Errorf("too many arguments")
	}
	return req, nil
}

func printOrders(orders []domain.Order) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSYMBOL\tSIDE\tTYPE\tQTY\tLIMIT\tSTOP\tSTATUS\tFILLED\tAVG")
	for _, o := range orders {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%g\t%g\t%g\t%s\t%g\t%g\n",
			o.ID, o.Symbol, o.Side, o.Type, o.Qty, o.LimitPrice, o.StopPrice, o.Status, o.FilledQty, o.AvgFillPrice)
	}
	w.Flush()
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatalf("encoding output: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
