package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

type entry struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"ts"`

	TickID  string `json:"tick_id"`
	Key     string `json:"key"`
	Symbol  string `json:"symbol"`
	Product string `json:"product"`
	Price   string `json:"price"`
	OrderID string `json:"order_id"`
	Paper   bool   `json:"paper"`
	Success bool   `json:"success"`
	Error   string `json:"error"`

	Strategy   string    `json:"strategy"`
	Direction  string    `json:"direction"`
	Underlying string    `json:"underlying"`
	Entry      float64   `json:"entry"`
	StopLoss   float64   `json:"stop_loss"`
	Targets    []float64 `json:"targets"`
	Strike     float64   `json:"strike"`

	Quantity int `json:"qty"`
}

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorPurple = "\033[35m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

type summary struct {
	exits, failed, paper, signals int
	qty                           int
}

func main() {
	kind := flag.String("type", "", "only show entries of this type (exit|signal)")
	failedOnly := flag.Bool("failed", false, "only show failed exit slices")
	output := flag.String("output", "", "also write a plain-text report to this file")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Println("Usage: view_journal [-type exit|signal] [-failed] [-output report.txt] <logs/exits.jsonl>")
		os.Exit(1)
	}

	entries, err := readJournal(flag.Arg(0))
	if err != nil {
		fmt.Printf("Error reading journal: %v\n", err)
		os.Exit(1)
	}
	entries = filter(entries, *kind, *failedOnly)

	printEntries(os.Stdout, entries, true)

	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			fmt.Printf("Error writing report: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		printEntries(f, entries, false)
		fmt.Printf("\n📄 Report saved to: %s\n", *output)
	}
}

func readJournal(path string) ([]entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var e entry
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			fmt.Fprintf(os.Stderr, "skipping line %d: %v\n", line, err)
			continue
		}
		out = append(out, e)
	}
	return out, scanner.Err()
}

func filter(entries []entry, kind string, failedOnly bool) []entry {
	out := entries[:0]
	for _, e := range entries {
		if kind != "" && e.Type != kind {
			continue
		}
		if failedOnly && (e.Type != "exit" || e.Success) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// printEntries renders entries; colour codes are only emitted for terminals.
func printEntries(w io.Writer, entries []entry, color bool) {
	paint := func(c, s string) string {
		if !color {
			return s
		}
		return c + s + colorReset
	}

	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintln(w, paint(colorBold+colorCyan, "📊 AutoExit Journal"))
	fmt.Fprintln(w, strings.Repeat("=", 80))

	var s summary
	for _, e := range entries {
		ts := e.Timestamp.Local().Format("2006-01-02 15:04:05")
		switch e.Type {
		case "exit":
			s.exits++
			status := paint(colorGreen, "✓")
			if !e.Success {
				s.failed++
				status = paint(colorRed, "✗")
			} else {
				s.qty += e.Quantity
			}
			mode := "LIVE"
			if e.Paper {
				s.paper++
				mode = "PAPER"
			}
			fmt.Fprintf(w, "%s %s %s %-22s qty=%s @ %s [%s] tick=%s\n",
				ts, status, paint(colorBold, "EXIT"), e.Key,
				paint(colorCyan, fmt.Sprint(e.Quantity)), paint(colorYellow, e.Price), mode, e.TickID)
			if e.OrderID != "" {
				fmt.Fprintf(w, "    order: %s\n", e.OrderID)
			}
			if e.Error != "" {
				fmt.Fprintf(w, "    error: %s\n", paint(colorRed, e.Error))
			}
		case "signal":
			s.signals++
			icon := "📈"
			if strings.EqualFold(e.Direction, "SELL") {
				icon = "📉"
			}
			targets := make([]string, len(e.Targets))
			for i, t := range e.Targets {
				targets[i] = fmt.Sprintf("%.2f", t)
			}
			fmt.Fprintf(w, "%s %s %s %s %s entry=%.2f sl=%.2f targets=%s strike=%.0f\n",
				ts, icon, paint(colorBold+colorPurple, "SIGNAL"), e.Strategy, e.Underlying,
				e.Entry, e.StopLoss, strings.Join(targets, "/"), e.Strike)
			if e.OrderID != "" {
				fmt.Fprintf(w, "    order: %s qty=%d\n", e.OrderID, e.Quantity)
			}
		default:
			fmt.Fprintf(w, "%s ? unknown entry type %q\n", ts, e.Type)
		}
	}

	fmt.Fprintln(w, strings.Repeat("-", 80))
	fmt.Fprintf(w, "%s exits=%d failed=%s paper=%d qty_placed=%d signals=%d\n",
		paint(colorBlue, "▶ Summary"), s.exits, paint(colorRed, fmt.Sprint(s.failed)), s.paper, s.qty, s.signals)
}
