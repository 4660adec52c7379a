package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"
	"k8s.io/utils/clock"

	"github.com/stemsi/exstem-cbt/internal/attempt"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/examapi"
	"github.com/stemsi/exstem-cbt/internal/logger"
	"github.com/stemsi/exstem-cbt/internal/model"
)

var errUsage = errors.New("usage")

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	paperID := flag.String("paper", "", "exam paper id")
	baseURL := flag.String("base", cfg.UpstreamBaseURL, "exam backend base URL")
	flag.Parse()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.New(os.Stderr, "pretty").Level(logger.ParseLevel(cfg.LogLevel))

	if *paperID == "" {
		fmt.Println("Error: -paper is required")
		os.Exit(2)
	}

	// ─── CLI Input ─────────────────────────────────────────────────────
	fmt.Print("Enter Student Token: ")
	byteToken, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		fmt.Println("\nError reading token")
		return
	}
	fmt.Println()
	token := strings.TrimSpace(string(byteToken))
	if token == "" {
		fmt.Println("Error: Token is required")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Start Attempt ─────────────────────────────────────────────────
	api := examapi.NewClient(strings.TrimRight(*baseURL, "/"), cfg.UpstreamTimeout).WithToken(token)
	sess := attempt.NewSession(api, clock.RealClock{}, attempt.SinkFunc(printEvent), log, attempt.Options{
		TickInterval:    cfg.TickInterval,
		AutosaveEvery:   cfg.AutosaveEvery,
		DebounceDelay:   cfg.DebounceDelay,
		SaveConcurrency: cfg.SaveConcurrency,
		PreAttemptPath:  cfg.PreAttemptPath,
		ResultsPath:     cfg.ResultsPath,
	})
	defer sess.Close()

	if err := sess.Load(ctx, *paperID); err != nil {
		fmt.Printf("Error: could not start the exam: %v\n", err)
		return
	}
	go sess.Run(ctx)

	view := sess.View(true)
	if view.Paper.Instructions != "" {
		fmt.Printf("\n%s\n", view.Paper.Instructions)
	}
	fmt.Println("Commands: n (next), p (prev), g <no> (go to), a <answer>, s (submit), q (quit)")
	showQuestion(sess)

	// ─── Command Loop ──────────────────────────────────────────────────
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			if sess.State() == model.AttemptStateSubmitted {
				fmt.Println("Exam submitted. Goodbye!")
			}
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := runCommand(ctx, sess, line); quit {
				return
			}
		}
	}
}

// runCommand executes one line of input and reports whether to exit.
func runCommand(ctx context.Context, sess *attempt.Session, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch cmd {
	case "":
		return false
	case "n":
		_, err = sess.Next()
	case "p":
		_, err = sess.Prev()
	case "g":
		var n int
		n, err = strconv.Atoi(arg)
		if err == nil {
			_, err = sess.GoTo(n - 1)
		}
	case "a":
		view := sess.View(true)
		q := view.Paper.Questions[view.CurrentIndex]
		var v model.AnswerValue
		if v, err = parseAnswer(q, arg); err == nil {
			err = sess.Answer(q.ID, v)
		}
	case "s":
		fmt.Println("Submitting...")
		if err = sess.Submit(ctx); err == nil {
			return true
		}
	case "q":
		return true
	default:
		err = errUsage
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return false
	}
	if cmd != "a" {
		showQuestion(sess)
	}
	return false
}

func showQuestion(sess *attempt.Session) {
	view := sess.View(true)
	if view.Paper == nil || len(view.Paper.Questions) == 0 {
		return
	}
	q := view.Paper.Questions[view.CurrentIndex]
	left := time.Duration(view.RemainingTime * float64(time.Second)).Round(time.Second)

	fmt.Printf("\n[%d/%d] %s  (time left %s, answered %d)\n",
		view.CurrentIndex+1, view.QuestionCount, q.Type, left, len(view.Answered))
	fmt.Println(q.Prompt)
	for i, opt := range q.Options {
		fmt.Printf("  %d) %s\n", i+1, opt)
	}
	if v, ok := sess.Lookup(q.ID); ok {
		fmt.Printf("Current answer: %s\n", formatAnswer(v))
	}
}

// parseAnswer reads a typed answer in the shape q expects. Options are
// entered 1-based, several of them separated by commas.
func parseAnswer(q model.Question, raw string) (model.AnswerValue, error) {
	if raw == "" {
		return model.AnswerValue{}, errUsage
	}
	switch q.Type {
	case model.QuestionTypeMultipleChoice:
		parts := strings.Split(raw, ",")
		opts := make([]int, 0, len(parts))
		for _, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return model.AnswerValue{}, fmt.Errorf("option %q is not a number", p)
			}
			opts = append(opts, n-1)
		}
		if q.MultipleAnswers {
			return model.AnswerValue{Options: opts}, nil
		}
		if len(opts) != 1 {
			return model.AnswerValue{}, model.ErrAnswerShape
		}
		return model.AnswerValue{Option: &opts[0]}, nil
	case model.QuestionTypeTrueFalse:
		b, err := strconv.ParseBool(strings.ToLower(raw))
		if err != nil {
			switch strings.ToLower(raw) {
			case "benar", "b", "y", "yes":
				b, err = true, nil
			case "salah", "s", "n", "no":
				b, err = false, nil
			default:
				return model.AnswerValue{}, model.ErrAnswerShape
			}
		}
		return model.AnswerValue{Bool: &b}, nil
	default:
		return model.AnswerValue{Text: &raw}, nil
	}
}

func formatAnswer(v model.AnswerValue) string {
	switch {
	case v.Option != nil:
		return strconv.Itoa(*v.Option + 1)
	case len(v.Options) > 0:
		out := make([]string, len(v.Options))
		for i, o := range v.Options {
			out[i] = strconv.Itoa(o + 1)
		}
		return strings.Join(out, ",")
	case v.Bool != nil:
		return strconv.FormatBool(*v.Bool)
	case v.Text != nil:
		return *v.Text
	}
	return "-"
}

func printEvent(ev model.AttemptEvent) {
	switch ev.Kind {
	case model.EventTick:
		if ev.Remaining > 0 && ev.Remaining <= 60 && ev.Remaining%10 == 0 {
			fmt.Printf("\n! %d seconds left\n", ev.Remaining)
		}
	case model.EventAutosaved:
		fmt.Printf("\n(autosaved %d answers)\n", ev.Saved)
	case model.EventAutosaveFailed:
		fmt.Printf("\n(autosave failed for %d answers, will retry)\n", ev.Failed)
	case model.EventSubmitFailed:
		fmt.Printf("\nSubmit failed: %s\n", ev.Message)
	case model.EventSubmitted:
		if ev.Trigger == model.SubmitTriggerTimeout {
			fmt.Println("\nTime is up. Your answers were submitted automatically.")
		}
	case model.EventLoadFailed:
		fmt.Printf("\nCould not load the exam: %s\n", ev.Message)
	}
}
