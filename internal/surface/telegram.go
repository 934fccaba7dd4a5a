package surface

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	tele "gopkg.in/telebot.v4"

	"starwatch/pkg/logx"
)

// Callback data prefixes. Tokens are uuids so the whole payload stays well
// under Telegram's 64 byte callback_data limit.
const (
	cbSeen  = "sw:seen:"
	cbAllow = "sw:allow:"
	cbDeny  = "sw:deny:"
)

// Pending alerts are kept so "Seen" can activate them. Older entries are
// dropped; pressing "Seen" on one only gets an expiry toast.
const (
	tgAlertTTL       = 7 * 24 * time.Hour
	tgMaxAlerts      = 500
	tgExpiredToast   = "This alert has expired."
	tgExpiredConsent = "This prompt has expired."
)

// Telegram presents alerts as chat messages with an inline keyboard.
// Pressing "Seen" activates the alert; dismissing deletes the message.
type Telegram struct {
	cfg Config
	log logx.Logger

	mu        sync.Mutex
	bot       *tele.Bot
	runCtx    context.Context
	runCancel context.CancelFunc
	done      chan struct{}

	alerts  map[string]*tgAlert
	consent map[string]chan Decision
	now     func() time.Time
}

type tgAlert struct {
	alert Alert
	msg   *tele.Message
	at    time.Time
}

func NewTelegram(cfg Config, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.Telegram.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	return &Telegram{
		cfg:     cfg,
		log:     log,
		alerts:  map[string]*tgAlert{},
		consent: map[string]chan Decision{},
		now:     time.Now,
	}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return nil
	}

	timeout := t.cfg.Telegram.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  t.cfg.Telegram.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, c tele.Context) {
			t.log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return err
	}
	b.Handle(tele.OnCallback, t.onCallback)

	t.bot = b
	t.runCtx, t.runCancel = context.WithCancel(context.Background())
	t.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		t.log.Info("telegram polling started")
		b.Start() // blocks until Stop
	}(t.done)
	return nil
}

func (t *Telegram) Stop(ctx context.Context) error {
	t.mu.Lock()
	b := t.bot
	done := t.done
	cancel := t.runCancel
	t.bot = nil
	t.mu.Unlock()
	if b == nil {
		return nil
	}

	cancel()
	go b.Stop()

	// Never block shutdown on an in-flight getUpdates long poll.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		t.log.Info("telegram polling stopped")
	case <-timer.C:
		t.log.Warn("telegram polling stop timed out")
	}
	return nil
}

func (t *Telegram) Probe(ctx context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bot != nil
}

func (t *Telegram) RequestConsent(ctx context.Context) (Decision, error) {
	b := t.currentBot()
	if b == nil {
		return DecisionNone, ErrNotStarted
	}

	token := uuid.NewString()
	ch := make(chan Decision, 1)
	t.mu.Lock()
	t.consent[token] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.consent, token)
		t.mu.Unlock()
	}()

	rm := &tele.ReplyMarkup{}
	rm.Inline(rm.Row(
		tele.Btn{Text: "Allow", Data: cbAllow + token},
		tele.Btn{Text: "Deny", Data: cbDeny + token},
	))
	text := t.cfg.AppName + " wants to send alerts for new items in your starred feeds."
	msg, err := b.Send(t.chat(), text, t.sendOptions(rm))
	if err != nil {
		return DecisionNone, err
	}
	defer func() { _ = b.Delete(msg) }()

	timer := time.NewTimer(t.cfg.ConsentTimeout)
	defer timer.Stop()
	select {
	case dec := <-ch:
		return dec, nil
	case <-timer.C:
		return DecisionNone, nil
	case <-ctx.Done():
		return DecisionNone, ctx.Err()
	}
}

func (t *Telegram) Present(ctx context.Context, a Alert) (Handle, error) {
	b := t.currentBot()
	if b == nil {
		return nil, ErrNotStarted
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	token := uuid.NewString()
	rm := &tele.ReplyMarkup{}
	var row []tele.Btn
	if a.URL != "" {
		row = append(row, tele.Btn{Text: "Open", URL: a.URL})
	}
	row = append(row, tele.Btn{Text: "Seen", Data: cbSeen + token})
	rm.Inline(rm.Row(row...))

	text := a.Title
	if a.Body != "" {
		text += "\n" + a.Body
	}
	msg, err := b.Send(t.chat(), text, t.sendOptions(rm))
	if err != nil {
		return nil, err
	}

	t.remember(token, &tgAlert{alert: a, msg: msg})
	return &tgHandle{t: t, token: token, msg: msg}, nil
}

// remember stores a pending alert, dropping expired entries and then the
// oldest ones beyond tgMaxAlerts.
func (t *Telegram) remember(token string, pa *tgAlert) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	pa.at = now
	for tok, old := range t.alerts {
		if now.Sub(old.at) > tgAlertTTL {
			delete(t.alerts, tok)
		}
	}
	for len(t.alerts) >= tgMaxAlerts {
		oldest := ""
		for tok, old := range t.alerts {
			if oldest == "" || old.at.Before(t.alerts[oldest].at) {
				oldest = tok
			}
		}
		delete(t.alerts, oldest)
	}
	t.alerts[token] = pa
}

func (t *Telegram) currentBot() *tele.Bot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bot
}

func (t *Telegram) chat() *tele.Chat { return &tele.Chat{ID: t.cfg.Telegram.ChatID} }

func (t *Telegram) sendOptions(rm *tele.ReplyMarkup) *tele.SendOptions {
	return &tele.SendOptions{
		ReplyMarkup:           rm,
		ThreadID:              t.cfg.Telegram.ThreadID,
		DisableWebPagePreview: true,
	}
}

func (t *Telegram) onCallback(c tele.Context) error {
	cb := c.Callback()
	if cb == nil {
		return nil
	}
	if chat := c.Chat(); chat != nil && chat.ID != t.cfg.Telegram.ChatID {
		return c.Respond()
	}
	text := t.handleCallback(strings.TrimSpace(cb.Data))
	return c.Respond(&tele.CallbackResponse{Text: text})
}

// handleCallback routes one callback payload and returns the toast text.
func (t *Telegram) handleCallback(data string) string {
	switch {
	case strings.HasPrefix(data, cbAllow), strings.HasPrefix(data, cbDeny):
		dec := DecisionAllow
		token := strings.TrimPrefix(data, cbAllow)
		if strings.HasPrefix(data, cbDeny) {
			dec = DecisionDeny
			token = strings.TrimPrefix(data, cbDeny)
		}
		t.mu.Lock()
		ch, ok := t.consent[token]
		delete(t.consent, token)
		t.mu.Unlock()
		if !ok {
			return tgExpiredConsent
		}
		ch <- dec
		if dec == DecisionAllow {
			return "Alerts enabled."
		}
		return "Alerts disabled."

	case strings.HasPrefix(data, cbSeen):
		token := strings.TrimPrefix(data, cbSeen)
		t.mu.Lock()
		pa, ok := t.alerts[token]
		delete(t.alerts, token)
		ctx := t.runCtx
		t.mu.Unlock()
		if !ok {
			return tgExpiredToast
		}
		if ctx == nil {
			ctx = context.Background()
		}
		if pa.alert.OnActivate != nil {
			go t.activate(ctx, pa.alert, &tgHandle{t: t, token: token, msg: pa.msg})
		}
		return "Marked as seen."
	}
	return ""
}

func (t *Telegram) activate(ctx context.Context, a Alert, h Handle) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("alert activation panicked", logx.String("alert", h.ID()), logx.Any("panic", r))
		}
	}()
	a.OnActivate(ctx, h)
}

type tgHandle struct {
	t     *Telegram
	token string
	msg   *tele.Message
}

func (h *tgHandle) ID() string {
	if h.msg == nil {
		return h.token
	}
	return strconv.Itoa(h.msg.ID)
}

func (h *tgHandle) Dismiss(ctx context.Context) error {
	h.t.mu.Lock()
	delete(h.t.alerts, h.token)
	h.t.mu.Unlock()

	b := h.t.currentBot()
	if b == nil || h.msg == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.Delete(h.msg)
}
