package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/mail"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-export/filter"
	"github.com/dhcgn/mail-export/source"
	"github.com/dhcgn/mail-export/stats"
)

var (
	reportDir     string
	topN          int
	includeHeader []string
	includeBody   []string
	excludeHeader []string
	excludeBody   []string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [mbox file or message directory]",
	Short: "Analyse a message source and show sender statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		fmt.Println("Analyzing message source:", path)

		selection, err := filter.New(filter.Options{
			IncludeHeader: includeHeader,
			IncludeBody:   includeBody,
			ExcludeHeader: excludeHeader,
			ExcludeBody:   excludeBody,
		})
		if err != nil {
			return fmt.Errorf("create filter: %w", err)
		}

		lister, err := listerForPath(path)
		if err != nil {
			return err
		}

		listed, err := lister.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("list source: %w", err)
		}

		counter := make(map[string]map[string]int)
		headersToTrack := []string{"From", "To", "Subject", "Delivered-To"}
		for _, h := range headersToTrack {
			counter[h] = make(map[string]int)
		}

		messageCount := 0
		skippedCount := 0
		unreadableCount := 0

		for _, h := range listed {
			raw, err := readHandle(h)
			if err != nil {
				unreadableCount++
				continue
			}

			if selection.Active() && !selection.Allows(raw) {
				skippedCount++
				continue
			}

			msg, err := mail.ReadMessage(strings.NewReader(string(raw)))
			if err != nil {
				unreadableCount++
				continue
			}

			messageCount++
			for _, headerName := range headersToTrack {
				if value := msg.Header.Get(headerName); value != "" {
					counter[headerName][value]++
				}
			}
		}

		total := messageCount + skippedCount + unreadableCount
		var filterPercent float64
		if total > 0 {
			filterPercent = float64(skippedCount) / float64(total) * 100
		}
		fmt.Printf("Listed %d messages (%d skipped by filters, %.2f%%; %d unreadable)\n\n",
			total, skippedCount, filterPercent, unreadableCount)

		for _, header := range headersToTrack {
			fmt.Printf("Top %d %s:\n", topN, header)
			stats.PrettyPrintTop(counter[header], topN)
			fmt.Println()
		}

		if err := saveCSVReports(counter, headersToTrack, reportDir, 1000); err != nil {
			return fmt.Errorf("error saving CSV reports: %w", err)
		}

		fmt.Printf("Reports saved to directory: %s\n", reportDir)

		return nil
	},
}

func init() {
	inspectCmd.Flags().StringVarP(&reportDir, "output", "o", ".", "Output directory for CSV reports")
	inspectCmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
	inspectCmd.Flags().StringArrayVar(&includeHeader, "include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	inspectCmd.Flags().StringArrayVar(&includeBody, "include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	inspectCmd.Flags().StringArrayVar(&excludeHeader, "exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	inspectCmd.Flags().StringArrayVar(&excludeBody, "exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
	rootCmd.AddCommand(inspectCmd)
}

// listerForPath treats a directory as a message-file directory and a
// regular file as an mbox archive.
func listerForPath(path string) (source.Lister, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return &source.DirSource{Dir: path}, nil
	}
	return &source.MboxSource{Path: path}, nil
}

func readHandle(h source.Handle) ([]byte, error) {
	rc, err := h.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func saveCSVReports(counter map[string]map[string]int, headers []string, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	// Write data for each header category to a separate file
	for _, header := range headers {
		counts := counter[header]

		filename := fmt.Sprintf("report_%s.csv", normalizeHeaderName(header))
		filePath := filepath.Join(dir, filename)

		file, err := os.Create(filePath)
		if err != nil {
			return err
		}

		writer := csv.NewWriter(file)

		if err := writer.Write([]string{"Value", "Count"}); err != nil {
			file.Close()
			return err
		}

		// Sort by count descending
		type pair struct {
			Key   string
			Value int
		}
		var pairs []pair
		for k, v := range counts {
			pairs = append(pairs, pair{k, v})
		}
		sort.Slice(pairs, func(i, j int) bool {
			return pairs[i].Value > pairs[j].Value
		})

		for i := 0; i < limit && i < len(pairs); i++ {
			record := []string{
				pairs[i].Key,
				strconv.Itoa(pairs[i].Value),
			}
			if err := writer.Write(record); err != nil {
				file.Close()
				return err
			}
		}

		writer.Flush()
		file.Close()

		if err := writer.Error(); err != nil {
			return err
		}
	}

	return nil
}

func normalizeHeaderName(header string) string {
	name := strings.ToLower(header)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}
