package consultation

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"qualgen/pkg/proto"
)

// TerminalPrompter asks the operator on the controlling terminal. It
// refuses to run without a TTY so that unattended pipelines expire
// instead of hanging on a prompt nobody will answer.
type TerminalPrompter struct{}

// NewTerminalPrompter creates a terminal prompter.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{}
}

// Prompt displays the consultation and reads the operator's decision.
// Pressing Enter accepts the proposed value; entering one of the listed
// options overrides it. Returns the context error when the deadline
// passes before any input arrives.
func (p *TerminalPrompter) Prompt(ctx context.Context, req *proto.ConsultationRequest) (*proto.ConsultationResult, error) {
	if !term.IsTerminal(syscall.Stdin) {
		return nil, fmt.Errorf("no terminal attached, cannot consult an operator")
	}

	fmt.Println()
	fmt.Println("⚠️  Human review required")
	fmt.Println(req.Summary)
	fmt.Printf("Options: %s\n", strings.Join(req.Options, ", "))
	fmt.Printf("Confirm proposed category %s, or enter an override [%s]: ", req.Proposed, req.Proposed)
	_ = os.Stdout.Sync()

	type answer struct {
		text string
		err  error
	}
	answerCh := make(chan answer, 1)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			answerCh <- answer{text: strings.TrimSpace(scanner.Text())}
			return
		}
		if err := scanner.Err(); err != nil {
			answerCh <- answer{err: fmt.Errorf("failed to read input: %w", err)}
			return
		}
		answerCh <- answer{err: fmt.Errorf("input closed without a decision")}
	}()

	operator := operatorName()

	select {
	case <-ctx.Done():
		fmt.Println()
		return nil, ctx.Err()
	case a := <-answerCh:
		if a.err != nil {
			return nil, a.err
		}

		result := &proto.ConsultationResult{
			RequestID:  req.ID,
			DecidedBy:  operator,
			ResolvedAt: time.Now().UTC(),
		}

		if a.text == "" || a.text == req.Proposed {
			result.Decision = proto.DecisionConfirmed
			result.Selected = req.Proposed
			return result, nil
		}

		for _, opt := range req.Options {
			if a.text == opt {
				result.Decision = proto.DecisionOverridden
				result.Selected = a.text
				return result, nil
			}
		}
		return nil, fmt.Errorf("%q is not one of the offered options", a.text)
	}
}

func operatorName() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "operator"
}
