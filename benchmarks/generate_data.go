// Command generate_data writes timestamped event documents for bulk fetch
// benchmarks. The larger sets exceed the engine page cap so fetching them
// exercises cursor pagination.
package main

import (
	"bufio"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"
	"github.com/bytedance/sonic"
)

type Event struct {
	ID        string  `json:"id"`
	Timestamp string  `json:"@timestamp"`
	Service   string  `json:"service"`
	Level     string  `json:"level"`
	Method    string  `json:"method"`
	Path      string  `json:"path"`
	Status    int     `json:"status"`
	Bytes     int     `json:"bytes"`
	LatencyMS float64 `json:"latency_ms"`
	Message   string  `json:"message"`
}

var (
	services = []string{"api", "web", "auth", "billing", "search", "worker"}
	methods  = []string{"GET", "GET", "GET", "POST", "PUT", "DELETE"}
	paths    = []string{"/", "/login", "/orders", "/orders/:id", "/cart", "/search", "/health"}
	messages = []string{
		"request completed", "cache miss", "upstream slow", "retrying request",
		"payment declined", "session expired", "rate limited",
	}
)

func pick(arr []string) string {
	return arr[rand.IntN(len(arr))]
}

func status() int {
	switch r := rand.Float64(); {
	case r < 0.85:
		return 200
	case r < 0.93:
		return 404
	case r < 0.97:
		return 401
	default:
		return 500
	}
}

func generateEvent(id int, start time.Time) Event {
	code := status()
	level := "info"
	if code >= 500 {
		level = "error"
	} else if code >= 400 {
		level = "warn"
	}

	return Event{
		ID:        fmt.Sprintf("evt-%08d", id),
		Timestamp: start.Add(time.Duration(id) * time.Second).Format(time.RFC3339),
		Service:   pick(services),
		Level:     level,
		Method:    pick(methods),
		Path:      pick(paths),
		Status:    code,
		Bytes:     rand.IntN(64*1024) + 128,
		LatencyMS: rand.ExpFloat64() * 40,
		Message:   pick(messages),
	}
}

var CLI struct {
	Out   string `help:"Output directory" default:"benchmarks"`
	Sizes []int  `help:"Dataset sizes" default:"1000,10000,25000"`
}

func writeDataset(path string, size int, start time.Time) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	for i := 1; i <= size; i++ {
		data, err := sonic.Marshal(generateEvent(i, start))
		if err != nil {
			return fmt.Errorf("failed to marshal event %d: %w", i, err)
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	return w.Flush()
}

func main() {
	kong.Parse(&CLI, kong.Name("generate_data"), kong.Description("Generate benchmark event data"))

	if err := os.MkdirAll(CLI.Out, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating directory: %v\n", err)
		os.Exit(1)
	}

	start := time.Now().UTC().Truncate(24 * time.Hour).Add(-24 * time.Hour)
	for _, size := range CLI.Sizes {
		filename := filepath.Join(CLI.Out, fmt.Sprintf("events_%d.jsonl", size))
		fmt.Printf("Generating %d events to %s...\n", size, filename)
		if err := writeDataset(filename, size, start); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", filename, err)
			os.Exit(1)
		}
	}

	fmt.Println("Done. Load with:")
	fmt.Printf("  curl -X POST 'localhost:3000/indexes?id=events&primaryKey=id&timeField=@timestamp&keywordFields=service,level'\n")
	fmt.Printf("  curl -X POST --data-binary @%s localhost:3000/indexes/events/documents\n",
		filepath.Join(CLI.Out, fmt.Sprintf("events_%d.jsonl", CLI.Sizes[len(CLI.Sizes)-1])))
}
