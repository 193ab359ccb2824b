package notice

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/infinity/cmd/util"
	"github.com/ValentinKolb/infinity/lib/notice"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:   "perf",
		Short: "Performance testing tool for the notice feed",
		Long:  "Pushes synthetic notices in parallel and reports the throughput. The messages use numbers from --start on and the namespace urn:perf, query them with (ns 'perf').",
		RunE:  runPerf,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return util.BindCommandFlags(cmd)
		},
	}
)

func init() {
	key := "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines pushing notices"))
	key = "start"
	perfTestCmd.Flags().Int64(key, 0, util.WrapString("First message number, 0 derives one from the current time"))
	key = "bouts"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different bouts to spread the messages over"))
	key = "text-size"
	perfTestCmd.Flags().Int(key, 200, util.WrapString("Length of the message text in bytes"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func runPerf(_ *cobra.Command, _ []string) error {
	threads := viper.GetInt("threads")
	bouts := int64(max(viper.GetInt("bouts"), 1))
	start := viper.GetInt64("start")
	if start <= 0 {
		start = time.Now().UnixMilli() * 1000
	}
	text := makeText(viper.GetInt("text-size"))

	fmt.Println("Performance testing tool for the notice feed")
	fmt.Printf("\nendpoint=%s, transport=%s, threads=%d, bouts=%d, start=%d\n\n",
		viper.GetString("feed-endpoint"), viper.GetString("feed-transport"), threads, bouts, start)

	results := make(map[string]testing.BenchmarkResult)
	next := atomic.Int64{}
	next.Store(start)

	results["post"] = testing.Benchmark(func(b *testing.B) {
		b.SetParallelism(threads)
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				number := next.Add(1)
				if err := push(perfPost(number, number%bouts+1, text)); err != nil {
					log.Printf("(post) - error pushing message %d: %v", number, err)
				}
			}
		})
	})
	printResult("post", results["post"])

	last := next.Load()
	results["seen"] = testing.Benchmark(func(b *testing.B) {
		b.SetParallelism(threads)
		counter := atomic.Int64{}
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				number := start + 1 + counter.Add(1)%max(last-start, 1)
				reader := notice.Identity("urn:perf:reader" + strconv.FormatInt(number%7, 10))
				n := &notice.MessageSeen{Message: notice.Message{Number: number, Author: reader}, Identity: reader}
				if err := push(n); err != nil {
					log.Printf("(seen) - error pushing seen of %d: %v", number, err)
				}
			}
		})
	})
	printResult("seen", results["seen"])

	if path := viper.GetString("csv"); path != "" {
		if err := writeResultsToCSV(path, results, threads); err != nil {
			return err
		}
		fmt.Printf("\nresults written to %s\n", path)
	}
	return nil
}

func perfPost(number, bout int64, text string) *notice.MessagePosted {
	author := notice.Identity("urn:perf:user" + strconv.FormatInt(number%5, 10))
	return &notice.MessagePosted{
		Message: notice.Message{Number: number, Author: author, Text: text, Date: time.Now()},
		Bout: notice.Bout{
			Number: bout,
			Title:  "perf bout " + strconv.FormatInt(bout, 10),
			Participants: []notice.Participant{
				{Identity: author, Confirmed: true},
				{Identity: "urn:perf:observer", Confirmed: true},
			},
		},
	}
}

func makeText(size int) string {
	words := []string{"lorem", "ipsum", "dolor", "sit", "amet", "consectetur", "adipiscing", "elit"}
	buf := make([]byte, 0, size+16)
	for i := 0; len(buf) < size; i++ {
		buf = append(buf, words[i%len(words)]...)
		buf = append(buf, ' ')
	}
	return string(buf[:size])
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1)
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, threads int) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"Test", "N", "NsPerOp", "DurationPerOp", "OpsPerSec", "Endpoint", "Transport", "Threads"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		nsPerOp := math.Max(float64(result.NsPerOp()), 1)
		row := []string{
			test,
			strconv.Itoa(result.N),
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", 1.0/(nsPerOp/1e9)),
			viper.GetString("feed-endpoint"),
			viper.GetString("feed-transport"),
			strconv.Itoa(threads),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}
	return writer.Error()
}
