package router

import (
	"strings"
)

// helpText renders the usage block for path; no path lists every command.
func (r *Router) helpText(path []string) string {
	r.mu.RLock()
	root, alias := r.root, r.alias
	r.mu.RUnlock()

	if len(path) == 0 {
		lines := []string{"Usage:"}
		for _, c := range root.commands() {
			lines = append(lines, "  "+usageLine(c))
		}
		lines = append(lines, "", "Try: help <cmd>")
		return strings.Join(lines, "\n")
	}

	lower := make([]string, len(path))
	for i, p := range path {
		lower[i] = strings.ToLower(p)
	}
	n := root.find(lower)
	if n == nil {
		// try alias -> show its canonical route
		if len(lower) == 1 {
			if leaf, ok := alias[lower[0]]; ok && leaf != nil && leaf.cmd != nil {
				return r.helpText(splitRoute(leaf.cmd.Route))
			}
		}
		return "command not found. try: help"
	}

	var lines []string
	if n.cmd != nil {
		cmd := n.cmd
		lines = append(lines, cmd.Route+": "+cmd.Description, "Usage:", "  "+usageLine(*cmd))
		if len(cmd.Aliases) > 0 {
			lines = append(lines, "Aliases: "+strings.Join(cmd.Aliases, ", "))
		}
		if cmd.Access == AccessAdmin {
			lines = append(lines, "Admin only.")
		}
	}
	if len(n.children) > 0 {
		lines = append(lines, strings.Join(lower, " ")+" subcommands:")
		for _, c := range n.commands() {
			if n.cmd != nil && c.Route == n.cmd.Route {
				continue
			}
			line := "  " + usageLine(c)
			if c.Description != "" {
				line += "    " + c.Description
			}
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func usageLine(c Command) string {
	if c.Usage != "" {
		return c.Usage
	}
	return c.Route
}
