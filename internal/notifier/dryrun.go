package notifier

import (
	"context"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/pfrederiksen/dpwh-projects/internal/project"
)

// DryRunNotifier prints what would be posted without actually posting
type DryRunNotifier struct {
	w io.Writer
}

// NewDryRunNotifier creates a new dry-run notifier writing to w
func NewDryRunNotifier(w io.Writer) *DryRunNotifier {
	return &DryRunNotifier{w: w}
}

// Notify prints the posts that would be published
func (n *DryRunNotifier) Notify(ctx context.Context, changes []*project.ChangeEvent) error {
	for i, c := range changes {
		post := formatPost(c)
		fmt.Fprintf(n.w, "--- Post %d/%d ---\n", i+1, len(changes))
		fmt.Fprintln(n.w, post)
		fmt.Fprintf(n.w, "\n(Length: %d characters)\n\n", utf8.RuneCountInString(post))
	}
	return nil
}
