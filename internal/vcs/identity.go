package vcs

import (
	"fmt"
	"strconv"
	"strings"
)

// prRef is the parsed form of a prID string "<owner>/<repo>#<number>",
// the identity format the orchestrator uses across both platforms.
type prRef struct {
	Owner  string
	Repo   string
	Number int
}

func parsePRID(prID string) (prRef, error) {
	ownerRepo, numStr, ok := strings.Cut(prID, "#")
	if !ok {
		return prRef{}, fmt.Errorf("malformed pr id %q: expected owner/repo#number", prID)
	}
	owner, repo, ok := strings.Cut(ownerRepo, "/")
	if !ok {
		return prRef{}, fmt.Errorf("malformed pr id %q: expected owner/repo#number", prID)
	}
	n, err := strconv.Atoi(numStr)
	if err != nil {
		return prRef{}, fmt.Errorf("malformed pr id %q: non-numeric pr number: %w", prID, err)
	}
	return prRef{Owner: owner, Repo: repo, Number: n}, nil
}

// FormatPRID builds the canonical prID string for owner/repo/number.
func FormatPRID(owner, repo string, number int) string {
	return owner + "/" + repo + "#" + strconv.Itoa(number)
}
