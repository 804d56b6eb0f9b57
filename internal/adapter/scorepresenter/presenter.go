package scorepresenter

import (
	"strings"

	"github.com/park285/arcade-scores/internal/highscore"
)

// Presenter delivers formatted notices for a play session without coupling
// the host loop to a particular sink.
type Presenter struct {
	format *Formatter
	notify func(sessionID, message string) error
}

func NewPresenter(format *Formatter, notify func(sessionID, message string) error) *Presenter {
	return &Presenter{format: format, notify: notify}
}

func (p *Presenter) Round(sessionID string, out highscore.Outcome, err error) error {
	if p == nil || p.notify == nil {
		return nil
	}
	text := strings.TrimSpace(p.format.Outcome(out, err))
	if text == "" {
		return nil
	}
	return p.notify(sessionID, text)
}
