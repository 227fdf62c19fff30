package kv

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dSnap/cmd/util"
	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Measures how fast changes reach the snapshot file",
		Long:    "",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__perf"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
	perfPrintMetrics     = false
)

// benchmark is one named workload of the perf command
type benchmark struct {
	name string
	op   func(key string, value []byte) error
	// value is created once per benchmark
	value func() []byte
	// flush waits for the snapshot after every iteration
	flush bool
}

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,flush)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
	key = "metrics"
	perfTestCmd.Flags().Bool(key, false, util.WrapString("Print the executor metrics in Prometheus format after the run"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")
	perfPrintMetrics = viper.GetBool("metrics")

	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for dSnap collections")

	// Print configuration
	conf := util.GetStoreConfig()
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(conf.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("staring tests...")

	small := func() []byte { return []byte("test") }
	large := func() []byte { return make([]byte, perfLargeValueSizeKB*1024) }

	benchmarks := []benchmark{
		{name: "set", op: collection.Set, value: small},
		{name: "set-large", op: collection.Set, value: large},
		{name: "delete", op: func(k string, _ []byte) error { return collection.Delete(k) }, value: small},
		{name: "flush", op: collection.Set, value: small, flush: true},
		{name: "flush-large", op: collection.Set, value: large, flush: true},
	}

	results := make(map[string]testing.BenchmarkResult, len(benchmarks))
	for _, bm := range benchmarks {
		result := runBenchmark(bm)
		results[bm.name] = result
		printResult(bm.name, result)
	}

	// Wait for the last debounced write so the stats are complete
	collection.WaitForWritingFinished()

	stats := collection.Store().Stats()
	fmt.Println()
	fmt.Println("Store statistics:")
	fmt.Printf("%-20s%d\n", "flushes", stats.Flushes)
	fmt.Printf("%-20s%d\n", "failed flushes", stats.FailedFlushes)
	fmt.Printf("%-20s%d\n", "full writes", stats.FullWrites)
	fmt.Printf("%-20s%d\n", "applied ops", stats.AppliedOps)
	fmt.Printf("%-20s%s\n", "mean flush", stats.MeanFlushDuration)
	fmt.Printf("%-20s%d bytes\n", "snapshot size", stats.SnapshotSize)

	if perfPrintMetrics {
		fmt.Println()
		metrics.WritePrometheus(os.Stdout, true)
	}

	// Export results to CSV if path is provided
	if csvPath := viper.GetString("csv"); csvPath != "" {
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return err
		}
		fmt.Printf("\nresults written to %s\n", csvPath)
	}

	return nil
}

// runBenchmark runs one workload against the open collection
func runBenchmark(bm benchmark) testing.BenchmarkResult {
	return testing.Benchmark(func(b *testing.B) {
		if shouldSkip(bm.name) {
			return
		}

		value := bm.value()
		getKey, iter := getKeys(bm.name)

		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if err := collection.Delete(k); err != nil {
					log.Printf("(%s) - error deleting key: %v\n", bm.name, err)
				}
			})
		})

		if bm.flush {
			// waiting for each snapshot serializes the workload
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := bm.op(getKey(i), value); err != nil {
					log.Printf("(%s) - error: %v\n", bm.name, err)
				}
				if err := collection.Flush(); err != nil {
					log.Printf("(%s) - error flushing: %v\n", bm.name, err)
				}
			}
			return
		}

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if err := bm.op(getKey(counter), value); err != nil {
					log.Printf("(%s) - error: %v\n", bm.name, err)
				}
				counter++
			}
		})
	})
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	return slices.Contains(perfSkip, test)
}

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

func opsPerSecond(result testing.BenchmarkResult) (nsPerOp, opsPerSec float64) {
	nsPerOp = math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	return nsPerOp, 1.0 / (nsPerOp / 1e9)
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp, opsPerSec := opsPerSecond(result)
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Serializer", "Compression", "Debounce", "MinWorkers", "ScheduledWorkers",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	conf := util.GetStoreConfig()
	for test, result := range results {
		var nsPerOp, opsPerSec float64
		skipped := result.NsPerOp() == 0
		if !skipped {
			nsPerOp, opsPerSec = opsPerSecond(result)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			strconv.FormatBool(skipped),
			conf.Serializer,
			strconv.FormatBool(conf.Compression),
			conf.Debounce.String(),
			strconv.Itoa(conf.Executor.MinWorkers),
			strconv.Itoa(conf.Executor.ScheduledWorkers),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
