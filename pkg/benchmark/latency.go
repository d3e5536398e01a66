package benchmark

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"cryptomid-go/pkg/buffers"
	"cryptomid-go/pkg/config"
	"cryptomid-go/pkg/log"
	"cryptomid-go/pkg/pipe"
	"cryptomid-go/pkg/server"
	"cryptomid-go/pkg/transform"
)

// LatencyResults holds the results of a latency benchmark
type LatencyResults struct {
	MinLatency    time.Duration
	MaxLatency    time.Duration
	AvgLatency    time.Duration
	MedianLatency time.Duration
	P95Latency    time.Duration
	P99Latency    time.Duration
	Iterations    int
	Succeeded     int
	TotalTime     time.Duration
	PayloadSize   int
	Component     Component
}

// Component specifies which layer to benchmark
type Component int

const (
	ComponentAll    Component = iota // Every component in turn
	ComponentCodec                   // One-shot PrepareOutput + ParseInput
	ComponentStream                  // Chunked stream through pipe.Run, both directions
	ComponentHTTP                    // Encoded POST through the echo host and back
)

func (c Component) String() string {
	switch c {
	case ComponentAll:
		return "All"
	case ComponentCodec:
		return "Codec"
	case ComponentStream:
		return "Stream"
	case ComponentHTTP:
		return "HTTP Round Trip"
	default:
		return "Unknown"
	}
}

// ParseComponent maps a command-line name to a Component.
func ParseComponent(name string) (Component, error) {
	switch strings.ToLower(name) {
	case "codec":
		return ComponentCodec, nil
	case "stream":
		return ComponentStream, nil
	case "http":
		return ComponentHTTP, nil
	case "all":
		return ComponentAll, nil
	default:
		return 0, fmt.Errorf("unknown component: %s", name)
	}
}

// BenchmarkOptions provides configuration for benchmarks
type BenchmarkOptions struct {
	Component   Component
	Iterations  int
	PayloadSize int
	Config      *config.Config
}

func DefaultBenchmarkOptions(cfg *config.Config) *BenchmarkOptions {
	return &BenchmarkOptions{
		Component:   ComponentCodec,
		Iterations:  1000,
		PayloadSize: 1024,
		Config:      cfg,
	}
}

// BenchmarkLatency measures one component. Iterations that fail are
// counted but do not contribute to the latency figures.
func BenchmarkLatency(ctx context.Context, opts *BenchmarkOptions) (*LatencyResults, error) {
	if opts.Iterations <= 0 {
		return nil, fmt.Errorf("iterations must be positive, got %d", opts.Iterations)
	}
	var iter func() error
	var err error
	switch opts.Component {
	case ComponentCodec:
		iter, err = codecIteration(opts)
	case ComponentStream:
		iter, err = streamIteration(ctx, opts)
	case ComponentHTTP:
		iter, err = httpIteration(opts)
	default:
		return nil, fmt.Errorf("cannot benchmark component %s on its own", opts.Component)
	}
	if err != nil {
		return nil, err
	}

	latencies := make([]time.Duration, 0, opts.Iterations)
	startTime := time.Now()
	for i := 0; i < opts.Iterations; i++ {
		if ctx.Err() != nil {
			return nil, transform.Cancelled(ctx)
		}
		iterStart := time.Now()
		if err := iter(); err != nil {
			log.Debug().Err(err).Int("iteration", i).Str("component", opts.Component.String()).Msg("benchmark iteration failed")
			continue
		}
		latencies = append(latencies, time.Since(iterStart))
	}

	results := calculateStats(latencies, opts.Iterations, time.Since(startTime))
	results.PayloadSize = opts.PayloadSize
	results.Component = opts.Component
	return results, nil
}

func testPayload(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 256)
	}
	return data
}

func codecIteration(opts *BenchmarkOptions) (func() error, error) {
	proc, err := opts.Config.Processor()
	if err != nil {
		return nil, err
	}
	data := testPayload(opts.PayloadSize)
	return func() error {
		encoded, err := proc.PrepareOutput(data)
		if err != nil {
			return err
		}
		decoded, err := proc.ParseInput(encoded)
		if err != nil {
			return err
		}
		if !bytes.Equal(decoded, data) {
			return fmt.Errorf("codec round trip mismatch")
		}
		return nil
	}, nil
}

func streamIteration(ctx context.Context, opts *BenchmarkOptions) (func() error, error) {
	proc, err := opts.Config.Processor()
	if err != nil {
		return nil, err
	}
	pool := buffers.NewBufferPool(opts.Config.ChunkSize)
	data := testPayload(opts.PayloadSize)
	var encoded, decoded bytes.Buffer
	return func() error {
		encoded.Reset()
		decoded.Reset()
		enc, err := proc.NewStream(transform.Encode)
		if err != nil {
			return err
		}
		if _, err := pipe.Run(ctx, bytes.NewReader(data), &encoded, enc, pool); err != nil {
			return err
		}
		dec, err := proc.NewStream(transform.Decode)
		if err != nil {
			return err
		}
		if _, err := pipe.Run(ctx, &encoded, &decoded, dec, pool); err != nil {
			return err
		}
		if !bytes.Equal(decoded.Bytes(), data) {
			return fmt.Errorf("stream round trip mismatch")
		}
		return nil
	}, nil
}

func httpIteration(opts *BenchmarkOptions) (func() error, error) {
	srv, err := server.New(opts.Config)
	if err != nil {
		return nil, err
	}
	name := strings.Repeat("x", opts.PayloadSize)
	plain, err := json.Marshal(server.Greeting{Name: name})
	if err != nil {
		return nil, err
	}
	body, err := srv.Processor.PrepareOutput(plain)
	if err != nil {
		return nil, err
	}
	return func() error {
		req := httptest.NewRequest(http.MethodPost, "/hello", bytes.NewReader(body))
		req.Header.Set(echo.HeaderContentType, opts.Config.ContentType)
		rec := httptest.NewRecorder()
		srv.Api.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			return fmt.Errorf("unexpected status %d", rec.Code)
		}
		var g server.Greeting
		if err := json.Unmarshal(rec.Body.Bytes(), &g); err != nil {
			return err
		}
		if len(g.Name) != len(name)+1 {
			return fmt.Errorf("unexpected greeting of %d bytes", len(g.Name))
		}
		return nil
	}, nil
}

// calculateStats calculates statistics from latency measurements
func calculateStats(latencies []time.Duration, iterations int, totalTime time.Duration) *LatencyResults {
	if len(latencies) == 0 {
		return &LatencyResults{
			Iterations: iterations,
			TotalTime:  totalTime,
		}
	}

	slices.Sort(latencies)

	var sum time.Duration
	for _, latency := range latencies {
		sum += latency
	}

	return &LatencyResults{
		MinLatency:    latencies[0],
		MaxLatency:    latencies[len(latencies)-1],
		AvgLatency:    sum / time.Duration(len(latencies)),
		MedianLatency: latencies[len(latencies)/2],
		P95Latency:    latencies[(len(latencies)*95)/100],
		P99Latency:    latencies[(len(latencies)*99)/100],
		Iterations:    iterations,
		Succeeded:     len(latencies),
		TotalTime:     totalTime,
	}
}

// RunAllBenchmarks runs benchmarks for all components with the given options
func RunAllBenchmarks(ctx context.Context, baseOpts *BenchmarkOptions, w io.Writer) ([]*LatencyResults, error) {
	var results []*LatencyResults
	for _, component := range []Component{ComponentCodec, ComponentStream, ComponentHTTP} {
		opts := *baseOpts
		opts.Component = component

		log.Printf("Running benchmark for %s...", component)
		result, err := BenchmarkLatency(ctx, &opts)
		if err != nil {
			return results, fmt.Errorf("benchmarking %s: %w", component, err)
		}
		results = append(results, result)
		PrintResults(w, result)
	}
	return results, nil
}

// PrintResults prints the results of a latency benchmark
func PrintResults(w io.Writer, results *LatencyResults) {
	fmt.Fprintf(w, "=== Latency Benchmark: %s ===\n", results.Component)
	fmt.Fprintf(w, "Payload Size: %d bytes\n", results.PayloadSize)
	fmt.Fprintf(w, "Iterations: %d\n", results.Iterations)
	fmt.Fprintf(w, "Succeeded: %d\n", results.Succeeded)
	fmt.Fprintf(w, "Total Time: %v\n", results.TotalTime)
	fmt.Fprintf(w, "Min Latency: %v\n", results.MinLatency)
	fmt.Fprintf(w, "Avg Latency: %v\n", results.AvgLatency)
	fmt.Fprintf(w, "Median Latency: %v\n", results.MedianLatency)
	fmt.Fprintf(w, "95th Percentile: %v\n", results.P95Latency)
	fmt.Fprintf(w, "99th Percentile: %v\n", results.P99Latency)
	fmt.Fprintf(w, "Max Latency: %v\n", results.MaxLatency)
	fmt.Fprintln(w, "==========================================")
}

// SaveResultsToFile saves benchmark results to a CSV file
func SaveResultsToFile(results []*LatencyResults, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	cw.Write([]string{"Component", "PayloadSize", "Iterations", "Succeeded", "MinLatency", "AvgLatency", "MedianLatency", "P95Latency", "P99Latency", "MaxLatency", "TotalTime"})
	for _, r := range results {
		cw.Write([]string{
			r.Component.String(),
			strconv.Itoa(r.PayloadSize),
			strconv.Itoa(r.Iterations),
			strconv.Itoa(r.Succeeded),
			strconv.FormatInt(r.MinLatency.Nanoseconds(), 10),
			strconv.FormatInt(r.AvgLatency.Nanoseconds(), 10),
			strconv.FormatInt(r.MedianLatency.Nanoseconds(), 10),
			strconv.FormatInt(r.P95Latency.Nanoseconds(), 10),
			strconv.FormatInt(r.P99Latency.Nanoseconds(), 10),
			strconv.FormatInt(r.MaxLatency.Nanoseconds(), 10),
			strconv.FormatInt(r.TotalTime.Nanoseconds(), 10),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return f.Close()
}
