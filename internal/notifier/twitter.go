package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dghubble/go-twitter/twitter" //nolint:staticcheck // Using stable v1.1 API
	"github.com/dghubble/oauth1"

	"github.com/pfrederiksen/dpwh-projects/internal/project"
)

const (
	// maxPostLength is the Twitter character limit.
	maxPostLength = 280

	// DefaultPostInterval spaces consecutive posts.
	DefaultPostInterval = 2 * time.Second
)

// Credentials are the OAuth 1.0a keys for posting as an account.
type Credentials struct {
	APIKey       string
	APISecret    string
	AccessToken  string
	AccessSecret string
}

func (c Credentials) complete() bool {
	return c.APIKey != "" && c.APISecret != "" && c.AccessToken != "" && c.AccessSecret != ""
}

// CredentialsFromEnv reads TWITTER_API_KEY, TWITTER_API_SECRET,
// TWITTER_ACCESS_TOKEN and TWITTER_ACCESS_SECRET.
func CredentialsFromEnv() Credentials {
	return Credentials{
		APIKey:       os.Getenv("TWITTER_API_KEY"),
		APISecret:    os.Getenv("TWITTER_API_SECRET"),
		AccessToken:  os.Getenv("TWITTER_ACCESS_TOKEN"),
		AccessSecret: os.Getenv("TWITTER_ACCESS_SECRET"),
	}
}

// TwitterNotifier posts change events to Twitter
type TwitterNotifier struct {
	client   *twitter.Client
	interval time.Duration
}

// NewTwitterNotifier creates a Twitter notifier. Missing fields in creds are
// taken from the environment.
func NewTwitterNotifier(creds Credentials) (*TwitterNotifier, error) {
	env := CredentialsFromEnv()
	if creds.APIKey == "" {
		creds.APIKey = env.APIKey
	}
	if creds.APISecret == "" {
		creds.APISecret = env.APISecret
	}
	if creds.AccessToken == "" {
		creds.AccessToken = env.AccessToken
	}
	if creds.AccessSecret == "" {
		creds.AccessSecret = env.AccessSecret
	}
	if !creds.complete() {
		return nil, errors.New("missing required Twitter credentials")
	}

	config := oauth1.NewConfig(creds.APIKey, creds.APISecret)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessSecret)
	return newTwitterNotifier(config.Client(oauth1.NoContext, token)), nil
}

func newTwitterNotifier(httpClient *http.Client) *TwitterNotifier {
	return &TwitterNotifier{
		client:   twitter.NewClient(httpClient),
		interval: DefaultPostInterval,
	}
}

// SetInterval changes the pause between posts.
func (n *TwitterNotifier) SetInterval(d time.Duration) {
	n.interval = d
}

// Notify posts one tweet per change event
func (n *TwitterNotifier) Notify(ctx context.Context, changes []*project.ChangeEvent) error {
	for i, c := range changes {
		_, _, err := n.client.Statuses.Update(formatPost(c), nil)
		if err != nil {
			return fmt.Errorf("failed to post change %s for %s: %w", c.ChangeType, c.ContractID, err)
		}

		// Rate limiting: wait between posts
		if i < len(changes)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(n.interval):
			}
		}
	}
	return nil
}

// formatPost formats a change event as a post
func formatPost(c *project.ChangeEvent) string {
	var b strings.Builder

	rec := c.NewSnapshot
	switch c.ChangeType {
	case project.ChangeCreated:
		b.WriteString("🏗️ New DPWH project listed\n\n")
	case project.ChangeUpdated:
		b.WriteString("🔄 DPWH project updated\n\n")
	case project.ChangePotentiallyDeleted:
		b.WriteString("⚠️ DPWH project no longer listed\n\n")
		rec = c.OldSnapshot
	}

	fmt.Fprintf(&b, "📄 %s", c.ContractID)
	if rec != nil && rec.ProjectName != "" {
		fmt.Fprintf(&b, " - %s", rec.ProjectName)
	}
	b.WriteString("\n")

	if rec != nil {
		if rec.Contractor != "" {
			fmt.Fprintf(&b, "👷 %s\n", rec.Contractor)
		}
		if rec.ContractAmount.Valid {
			fmt.Fprintf(&b, "💰 PHP %s\n", rec.ContractAmount.Decimal.StringFixed(2))
		}
		if rec.Status != "" || rec.PhysicalProgress.Valid {
			b.WriteString("📊 ")
			b.WriteString(rec.Status)
			if rec.PhysicalProgress.Valid {
				if rec.Status != "" {
					b.WriteString(" ")
				}
				fmt.Fprintf(&b, "(%s%%)", rec.PhysicalProgress.Decimal.String())
			}
			b.WriteString("\n")
		}
	}

	if c.ChangeType == project.ChangeUpdated && len(c.ChangedFields) > 0 {
		fmt.Fprintf(&b, "✏️ Changed: %s\n", strings.Join(c.ChangedFields, ", "))
	}

	b.WriteString("\n#DPWH #InfraProjects")

	return truncate(b.String(), maxPostLength)
}

// truncate cuts s to at most limit characters, ending in "...".
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}
