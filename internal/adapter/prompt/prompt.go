// Package prompt asks how a retrieval should treat an existing checkpoint.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fairyhunter13/querypanda/internal/domain"
)

// Terminal asks on an interactive stream until it gets a valid answer.
type Terminal struct {
	In  io.Reader
	Out io.Writer
}

var _ domain.Prompter = Terminal{}

// Decide prints the checkpoint and reads c, o or e. End of input means exit.
func (t Terminal) Decide(ctx domain.Context, cp domain.Checkpoint) (domain.Decision, error) {
	state := "complete"
	if !cp.Complete {
		state = "incomplete"
	}
	sc := bufio.NewScanner(t.In)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		fmt.Fprintf(t.Out, "Data up to %s already processed (%s). Continue (c), Overwrite (o), or Exit (e)? ",
			cp.LastProcessed.Format(time.DateTime), state)
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", fmt.Errorf("op=prompt.Decide: %w", err)
			}
			fmt.Fprintln(t.Out)
			return domain.DecisionExit, nil
		}
		if d, ok := domain.ParseDecision(strings.ToLower(strings.TrimSpace(sc.Text()))); ok {
			return d, nil
		}
		fmt.Fprintln(t.Out, "Please answer c, o or e.")
	}
}

// Fixed answers every checkpoint with the same decision, for unattended runs.
type Fixed domain.Decision

func (f Fixed) Decide(_ domain.Context, _ domain.Checkpoint) (domain.Decision, error) {
	return domain.Decision(f), nil
}
