// One-shot tool: print the fill journal for a trading date with per-symbol
// and day totals.
//
// Usage:
//
//	go run cmd/limitless-journal/main.go [YYYY-MM-DD]
package main

import (
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"limitless/internal/config"
	"limitless/internal/store"
)

func main() {
	cfgPath := "config/limitless.yaml"
	if p := os.Getenv("LIMITLESS_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	date := time.Now()
	if len(os.Args) > 1 {
		date, err = time.Parse("2006-01-02", os.Args[1])
		if err != nil {
			log.Fatalf("bad date %q: %v", os.Args[1], err)
		}
	}

	journal := store.NewJournalArchive(cfg.Storage.DataDir)
	fills, err := journal.Read(date)
	if err != nil {
		log.Fatalf("reading journal: %v", err)
	}
	if len(fills) == 0 {
		fmt.Printf("no fills on %s\n", date.Format("2006-01-02"))
		return
	}

	sort.Slice(fills, func(i, j int) bool { return fills[i].Timestamp.Before(fills[j].Timestamp) })

	perSymbol := make(map[string]float64)
	total := 0.0
	for _, f := range fills {
		fmt.Printf("%s  %-5s %-4s %5d @ %8.2f", f.Timestamp.Format("15:04:05"), f.Symbol, f.Side, f.Qty, f.Price)
		if f.Reason != "" {
			fmt.Printf("  %+9.2f  %s", f.RealizedPnL, f.Reason)
		}
		fmt.Println()
		perSymbol[f.Symbol] += f.RealizedPnL
		total += f.RealizedPnL
	}

	symbols := make([]string, 0, len(perSymbol))
	for s := range perSymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	fmt.Println()
	for _, s := range symbols {
		fmt.Printf("%-5s %+10.2f\n", s, perSymbol[s])
	}
	fmt.Printf("TOTAL %+10.2f over %d fills\n", total, len(fills))
}
