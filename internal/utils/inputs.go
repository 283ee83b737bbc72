package utils

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// PromptYesNoFrom asks until it reads y/yes or n/no. End of input counts as no.
func PromptYesNoFrom(in io.Reader, out io.Writer, question string) bool {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprintf(out, "%s (y/n): ", question)
		response, err := reader.ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(response)) {
		case "y", "yes":
			return true
		case "n", "no":
			return false
		}
		if err != nil {
			return false
		}
		fmt.Fprintln(out, "Please enter y or n")
	}
}
