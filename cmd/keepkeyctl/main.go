// Command keepkeyctl is a terminal debug console for keepkeyd: it lists
// connected devices, tails the Event Bus over SSE, and sends one command at
// a time, scoped down from the teacher's internal/cli/ui.go to the single
// concern this repository needs.
package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8303", "keepkeyd HTTP command surface base URL")
	flag.Parse()

	client := newAPIClient(*addr)
	p := tea.NewProgram(initialModel(client), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "keepkeyctl:", err)
		os.Exit(1)
	}
}
