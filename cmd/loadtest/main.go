package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rl1809/order-pipeline/internal/adapter/handler"
	"github.com/rl1809/order-pipeline/internal/adapter/handler/pb"
)

type options struct {
	transport   string
	httpAddr    string
	grpcAddr    string
	customerID  string
	productID   string
	requests    int
	concurrency int
	expectStock int
	wait        bool
}

// buyFunc places one order and reports whether it was accepted.
type buyFunc func(ctx context.Context) (bool, error)

func main() {
	var opts options
	flag.StringVar(&opts.transport, "transport", "http", "http or grpc")
	flag.StringVar(&opts.httpAddr, "http", "http://localhost:8080", "HTTP base URL")
	flag.StringVar(&opts.grpcAddr, "grpc", "localhost:50051", "gRPC address")
	flag.StringVar(&opts.customerID, "customer", "cust-001", "customer id")
	flag.StringVar(&opts.productID, "product", "prod-006", "product id")
	flag.IntVar(&opts.requests, "n", 50, "total requests")
	flag.IntVar(&opts.concurrency, "c", 50, "concurrent workers")
	flag.IntVar(&opts.expectStock, "stock", -1, "stock before the run; checks the accepted count when >= 0")
	flag.BoolVar(&opts.wait, "wait", false, "wait for each order to become visible")
	flag.Parse()

	buy, closeFn, err := newBuyer(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closeFn()

	var successCount, rejectCount, errorCount atomic.Int32
	jobs := make(chan struct{})
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < opts.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				ok, err := buy(ctx)
				cancel()
				switch {
				case err != nil:
					errorCount.Add(1)
				case ok:
					successCount.Add(1)
				default:
					rejectCount.Add(1)
				}
			}
		}()
	}
	for i := 0; i < opts.requests; i++ {
		jobs <- struct{}{}
	}
	close(jobs)
	wg.Wait()
	elapsed := time.Since(start)

	success, rejected, failed := successCount.Load(), rejectCount.Load(), errorCount.Load()

	fmt.Println("========== LOAD TEST RESULTS ==========")
	fmt.Printf("Transport:        %s\n", opts.transport)
	fmt.Printf("Product:          %s\n", opts.productID)
	fmt.Printf("Total Requests:   %d\n", opts.requests)
	fmt.Printf("Accepted:         %d\n", success)
	fmt.Printf("Rejected:         %d\n", rejected)
	fmt.Printf("Errors:           %d\n", failed)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Printf("Throughput:       %.1f req/s\n", float64(opts.requests)/elapsed.Seconds())
	fmt.Println("==========================================")

	if opts.expectStock < 0 {
		return
	}
	want := int32(min(opts.expectStock, opts.requests))
	if success == want {
		fmt.Printf("PASS: exactly %d orders accepted\n", want)
		return
	}
	fmt.Printf("FAIL: expected %d accepted, got %d\n", want, success)
	os.Exit(1)
}

func newBuyer(opts options) (buyFunc, func(), error) {
	switch opts.transport {
	case "http":
		return httpBuyer(opts), func() {}, nil
	case "grpc":
		conn, err := grpc.NewClient(opts.grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, nil, fmt.Errorf("dial %s: %w", opts.grpcAddr, err)
		}
		return grpcBuyer(pb.NewOrderServiceClient(conn), opts), func() { conn.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown transport %q", opts.transport)
}

func httpBuyer(opts options) buyFunc {
	client := &http.Client{Timeout: 30 * time.Second}
	url := fmt.Sprintf("%s/orders?wait=%t", opts.httpAddr, opts.wait)
	return func(ctx context.Context) (bool, error) {
		body, err := json.Marshal(handler.CreateOrderHTTPRequest{
			CustomerID: opts.customerID,
			ProductID:  opts.productID,
			Quantity:   1,
		})
		if err != nil {
			return false, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return false, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusCreated:
			return true, nil
		case resp.StatusCode < http.StatusInternalServerError:
			return false, nil
		}
		return false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

func grpcBuyer(client pb.OrderServiceClient, opts options) buyFunc {
	return func(ctx context.Context) (bool, error) {
		_, err := client.CreateOrder(ctx, &pb.CreateOrderRequest{
			CustomerId: opts.customerID,
			ProductId:  opts.productID,
			Quantity:   1,
			SkipWait:   !opts.wait,
		})
		if err == nil {
			return true, nil
		}
		if rejected(err) {
			return false, nil
		}
		return false, err
	}
}
