package notifications

import (
	"github.com/containrrr/shoutrrr/pkg/router"
	"github.com/containrrr/shoutrrr/pkg/types"
	"github.com/sirupsen/logrus"
)

// Notifier sends operator notifications via Shoutrrr. A nil Notifier is
// valid and drops every message, so callers never branch on whether
// notifications are configured.
type Notifier struct {
	sr *router.ServiceRouter
}

// NewNotifier initializes a Notifier with the provided Shoutrrr URLs.
// Returns nil when no URLs are configured.
func NewNotifier(urls []string) (*Notifier, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	sr, err := router.New(nil, urls...)
	if err != nil {
		return nil, err
	}
	return &Notifier{sr: sr}, nil
}

// Send sends a notification message to all configured services.
func (n *Notifier) Send(title, message string) {
	if n == nil {
		return
	}
	params := types.Params{
		"title": title,
	}
	errs := n.sr.Send(message, &params)
	for _, err := range errs {
		if err != nil {
			logrus.WithError(err).Error("Failed to send notification")
		}
	}
}
