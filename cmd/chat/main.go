package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"github.com/RohitAchyutuni/PlanGenie/internal/chatapi"
	"github.com/RohitAchyutuni/PlanGenie/internal/models"
	"github.com/RohitAchyutuni/PlanGenie/internal/store"
	"github.com/RohitAchyutuni/PlanGenie/internal/thread"
)

var (
	assistantURL = flag.String("assistant-url", "http://localhost:9000", "Assistant backend base URL")
	sqlitePath   = flag.String("db", "", "SQLite path for thread storage (in-memory when empty)")
	threadTitle  = flag.String("title", "Terminal Trip", "Title for a freshly created thread")
)

func main() {
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupts
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		fmt.Println("\nShutting down...")
		cancel()
		os.Exit(0)
	}()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	var threads store.ThreadStore
	if *sqlitePath != "" {
		sq, err := store.NewSQLiteStore(ctx, *sqlitePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening %s: %v\n", *sqlitePath, err)
			os.Exit(1)
		}
		defer sq.Close()
		threads = sq
	} else {
		threads = store.NewMemoryStore()
	}

	backend := chatapi.NewClient(*assistantURL, logger)
	ctrl := thread.NewController(threads, nil, backend, logger)

	boldGreen := color.New(color.FgGreen, color.Bold).SprintFunc()
	boldCyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()

	red := color.New(color.FgRed).SprintFunc()
	ctrl.Notify = func(err error) {
		fmt.Printf("\n%s %v\n", red("stream error:"), err)
	}

	fmt.Println(boldGreen("PlanGenie Terminal"))
	fmt.Printf("Assistant: %s\n", boldCyan(*assistantURL))
	fmt.Println("Type your message and press Enter. Type 'plan' to show the current plan,")
	fmt.Println("'stop' to interrupt a reply, 'exit' or Ctrl+C to quit.")
	fmt.Println()

	active, err := threads.CreateThread(ctx, *threadTitle)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating thread: %v\n", err)
		os.Exit(1)
	}
	if err := ctrl.Switch(ctx, active.ID); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading thread: %v\n", err)
		os.Exit(1)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(boldGreen("You: "))
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())

		switch strings.ToLower(input) {
		case "":
			continue
		case "exit":
			return
		case "stop":
			ctrl.Stop(ctx)
			continue
		case "plan":
			printPlan(ctrl.Plans().Snapshot(), boldCyan, yellow)
			continue
		}

		if err := ctrl.Send(ctx, input); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}

		fmt.Print(boldCyan("Assistant: "))
		awaitReply(ctx, ctrl, faint)
		fmt.Println()
	}
}

// awaitReply polls the controller until the streaming turn ends, printing
// progress steps and then the reply text.
func awaitReply(ctx context.Context, ctrl *thread.Controller, faint func(a ...interface{}) string) {
	printedSteps := map[string]bool{}
	printedText := ""
	firstStep := true

	for {
		for _, step := range ctrl.Steps() {
			if !printedSteps[step.ID] {
				printedSteps[step.ID] = true
				if firstStep {
					fmt.Println()
					firstStep = false
				}
				fmt.Printf("  %s\n", faint(step.Text))
			}
		}

		if text := assistantText(ctrl); len(text) > len(printedText) {
			fmt.Print(text[len(printedText):])
			printedText = text
		}

		if ctrl.State() != thread.StateStreaming {
			if text := assistantText(ctrl); len(text) > len(printedText) {
				fmt.Print(text[len(printedText):])
			}
			fmt.Println()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func assistantText(ctrl *thread.Controller) string {
	active := ctrl.ActiveThread()
	if active == nil || len(active.Messages) == 0 {
		return ""
	}
	last := active.Messages[len(active.Messages)-1]
	if last.Role != models.RoleAssistant {
		return ""
	}
	if block := last.TextBlock(); block != nil {
		return block.Text
	}
	return ""
}

// printPlan renders the current plan to the terminal.
func printPlan(p models.PlanViewModel, heading, item func(a ...interface{}) string) {
	if p.IsEmpty() {
		fmt.Println("No plan yet.")
		return
	}

	if len(p.Flights) > 0 {
		fmt.Println(heading("Flights"))
		for _, f := range p.Flights {
			fmt.Printf("  %s %s  %s -> %s  %.2f %s\n",
				item(f.Airline), f.FlightNumber, f.DepartAirport, f.ArriveAirport, f.Price, f.Currency)
		}
	}
	if len(p.Hotels) > 0 {
		fmt.Println(heading("Hotels"))
		for _, h := range p.Hotels {
			fmt.Printf("  %s (%d stars)  %.2f %s/night\n", item(h.Name), h.Stars, h.NightlyPrice, h.Currency)
		}
	}
	if len(p.ItineraryDays) > 0 {
		fmt.Println(heading("Itinerary"))
		for _, d := range p.ItineraryDays {
			fmt.Printf("  %s  %s\n", item(d.Date), d.City)
			for _, b := range d.Blocks {
				for _, a := range b.Activities {
					fmt.Printf("    %s: %s\n", b.Time, a.Name)
				}
			}
		}
	}
	if p.Summary != "" {
		fmt.Println(heading("Summary"))
		fmt.Printf("  %s\n", p.Summary)
	}
}
