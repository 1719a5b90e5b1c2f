package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/pterm/pterm"

	"github.com/1ureka/duet/internal/protocol"
)

// prompter abstracts the interactive widgets so the menu logic can be
// driven without a terminal.
type prompter interface {
	Select(title string, options []string) (string, error)
	Input(title string) (string, error)
}

// ptermPrompter shows pterm interactive widgets. Ctrl+C calls onInterrupt
// instead of exiting the process.
type ptermPrompter struct {
	onInterrupt func()
}

func (p ptermPrompter) Select(title string, options []string) (string, error) {
	return pterm.DefaultInteractiveSelect.
		WithOptions(options).
		WithDefaultText(title).
		WithMaxHeight(len(options)).
		WithOnInterruptFunc(p.onInterrupt).
		Show()
}

func (p ptermPrompter) Input(title string) (string, error) {
	return pterm.DefaultInteractiveTextInput.
		WithDefaultText(title).
		WithOnInterruptFunc(p.onInterrupt).
		Show()
}

// menuItem is one entry of the console menu.
type menuItem struct {
	label  string
	cmd    protocol.MessageType
	prompt string // non-empty when the command needs pasted input
}

const (
	labelToggleOn  = "Turn microphone on"
	labelToggleOff = "Turn microphone off"
	labelShow      = "Show local candidates"
	labelQuit      = "Quit"
)

// sessionItems are offered when the session allows the matching operation.
var sessionItems = []menuItem{
	{label: "Create session", cmd: protocol.MsgCreateSession},
	{label: "Make offer (you call)", cmd: protocol.MsgMakeOffer},
	{label: "Accept offer (you answer)", cmd: protocol.MsgAcceptOffer, prompt: "Paste the offer from the other side"},
	{label: "Accept answer", cmd: protocol.MsgAcceptAnswer, prompt: "Paste the answer from the other side"},
	{label: "Add remote candidate", cmd: protocol.MsgAddCandidate, prompt: "Paste one candidate line from the other side"},
	{label: "Close session", cmd: protocol.MsgClose},
}

// Console is the interactive terminal adapter.
type Console struct {
	dispatcher *Dispatcher
	prompt     prompter

	mu sync.Mutex // serializes output
}

// NewConsole creates a console. onInterrupt is called when the user presses
// Ctrl+C inside a prompt.
func NewConsole(dispatcher *Dispatcher, onInterrupt func()) *Console {
	return &Console{
		dispatcher: dispatcher,
		prompt:     ptermPrompter{onInterrupt: onInterrupt},
	}
}

// Run shows the menu until the user quits or ctx is cancelled.
func (c *Console) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		c.dispatcher.Refresh(ctx)
		state := c.dispatcher.State()
		items := c.menu(state)

		labels := make([]string, len(items))
		for i, item := range items {
			labels[i] = item.label
		}

		choice, err := c.prompt.Select(header(state), labels)
		if err != nil {
			return fmt.Errorf("read menu choice: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}

		switch choice {
		case labelQuit:
			return nil
		case labelShow:
			c.showCandidates()
			continue
		}

		for _, item := range items {
			if item.label == choice {
				if err := c.perform(ctx, item); err != nil {
					return err
				}
				break
			}
		}
	}
}

// menu lists the items legal in state, in a fixed order.
func (c *Console) menu(state protocol.State) []menuItem {
	allowed := make(map[string]bool, len(state.Allowed))
	for _, op := range state.Allowed {
		allowed[op] = true
	}

	var items []menuItem
	for _, item := range sessionItems {
		if allowed[string(item.cmd)] {
			items = append(items, item)
		}
	}

	if c.dispatcher.CaptureAvailable() {
		label := labelToggleOn
		if state.Capturing {
			label = labelToggleOff
		}
		items = append(items, menuItem{label: label, cmd: protocol.MsgToggleCapture})
	}
	if state.LocalCandidates > 0 {
		items = append(items, menuItem{label: labelShow})
	}
	return append(items, menuItem{label: labelQuit})
}

func (c *Console) perform(ctx context.Context, item menuItem) error {
	cmd := protocol.Message{Type: item.cmd}

	if item.prompt != "" {
		text, err := c.prompt.Input(item.prompt)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		if item.cmd == protocol.MsgAddCandidate {
			cmd.Text = text
		} else {
			cmd.SDP = text
		}
	}

	c.render(c.dispatcher.Handle(ctx, cmd))
	return nil
}

func (c *Console) render(res protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pterm.Println()

	if res.Error != nil {
		pterm.Error.Printfln("%s: %s", res.Error.Kind, res.Error.Message)
		pterm.Println()
		return
	}

	if res.SDP != "" {
		title := "Offer"
		if res.State != nil && res.State.Role == "answerer" {
			title = "Answer"
		}
		pterm.DefaultBox.WithTitle(title).Println(
			fmt.Sprintf("Fingerprint : %s\nCopy the line below to the other side.", res.Fingerprint))
		pterm.Println(res.SDP)
	}
	if res.Warning != "" {
		pterm.Warning.Println(res.Warning)
	}
	if res.Running != nil {
		if *res.Running {
			pterm.Success.Println("Microphone is on")
		} else {
			pterm.Success.Println("Microphone is off")
		}
	}
	if res.State != nil {
		pterm.Info.Printfln("Phase: %s | Role: %s", res.State.Phase, res.State.Role)
	}
	pterm.Println()
}

// ShowCandidate prints a local candidate as soon as it is relayed.
func (c *Console) ShowCandidate(cand protocol.Candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pterm.Info.Println("New local candidate, copy it to the other side:")
	pterm.Println(cand.String())
}

func (c *Console) showCandidates() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cands := c.dispatcher.LocalCandidates()
	pterm.Println()
	pterm.Info.Printfln("%d local candidates, one per line:", len(cands))
	for _, cand := range cands {
		pterm.Println(cand.String())
	}
	pterm.Println()
}

func header(state protocol.State) string {
	mic := "off"
	if state.Capturing {
		mic = "on"
	}
	return fmt.Sprintf("Phase: %s | Role: %s | Mic: %s | ICE: %d local, %d remote (%d queued)",
		state.Phase, state.Role, mic, state.LocalCandidates, state.AppliedRemote, state.PendingRemote)
}
