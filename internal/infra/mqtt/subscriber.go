package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"tuya-lights/internal/domain"
	"tuya-lights/internal/infra/tuya"
)

const (
	connectTimeout = 10 * time.Second
	keepAlive      = 60 * time.Second
	quiesceMillis  = 250

	// renewBefore is how long before the credentials expire a new broker
	// session is opened.
	renewBefore = time.Minute
	retryDelay  = 30 * time.Second
)

var ErrConnectionFailed = errors.New("mqtt: connection failed")

// ConfigSource hands out broker credentials for the Tuya message queue.
type ConfigSource interface {
	GetMQConfig(ctx context.Context, linkID string) (tuya.MQConfig, error)
}

// Subscriber receives device status reports pushed over the Tuya MQ. The
// broker credentials expire, so the session is replaced shortly before that.
type Subscriber struct {
	source ConfigSource
	linkID string
	logger *slog.Logger
	dial   func(*pahomqtt.ClientOptions) pahomqtt.Client

	// ReportReceived is called for every decoded status report when set.
	ReportReceived func()

	mu      sync.RWMutex
	client  pahomqtt.Client
	handler func(domain.StatusReport)
}

func NewSubscriber(source ConfigSource, linkID string, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		source: source,
		linkID: linkID,
		logger: logger,
		dial:   pahomqtt.NewClient,
	}
}

// Subscribe connects to the broker and calls handler for every status report
// until ctx is done. It returns once the first session is established.
func (s *Subscriber) Subscribe(ctx context.Context, handler func(domain.StatusReport)) error {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()

	cfg, err := s.connect(ctx)
	if err != nil {
		return err
	}

	go s.maintain(ctx, cfg.ExpireAt)
	return nil
}

func (s *Subscriber) connect(ctx context.Context) (tuya.MQConfig, error) {
	cfg, err := s.source.GetMQConfig(ctx, s.linkID)
	if err != nil {
		return tuya.MQConfig{}, fmt.Errorf("fetching mq credentials: %w", err)
	}
	if cfg.SourceTopic == "" {
		return tuya.MQConfig{}, fmt.Errorf("%w: no device topic offered", ErrConnectionFailed)
	}

	client := s.dial(buildClientOptions(cfg, s.messageHandler(cfg.Key())))
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return tuya.MQConfig{}, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return tuya.MQConfig{}, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	sub := client.Subscribe(cfg.SourceTopic, 1, nil)
	if !sub.WaitTimeout(connectTimeout) || sub.Error() != nil {
		client.Disconnect(quiesceMillis)
		return tuya.MQConfig{}, fmt.Errorf("%w: subscribing to %s: %v", ErrConnectionFailed, cfg.SourceTopic, sub.Error())
	}

	s.mu.Lock()
	previous := s.client
	s.client = client
	s.mu.Unlock()

	if previous != nil {
		previous.Disconnect(quiesceMillis)
	}

	s.logger.Info("connected to tuya mq",
		"broker", cfg.URL,
		"topic", cfg.SourceTopic,
		"expires", cfg.ExpireAt.Format(time.RFC3339),
	)
	return cfg, nil
}

// maintain renews the session before the credentials expire and disconnects
// when ctx is done.
func (s *Subscriber) maintain(ctx context.Context, expireAt time.Time) {
	for {
		wait := max(time.Until(expireAt)-renewBefore, retryDelay)
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			s.disconnect()
			return
		case <-timer.C:
		}

		cfg, err := s.connect(ctx)
		if err != nil {
			s.logger.Error("renewing mq session failed", "error", err)
			expireAt = time.Now().Add(renewBefore)
			continue
		}
		expireAt = cfg.ExpireAt
	}
}

func (s *Subscriber) disconnect() {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client != nil {
		client.Disconnect(quiesceMillis)
		s.logger.Info("disconnected from tuya mq")
	}
}

// messageHandler decrypts with the key of the session it was built for, so
// an outgoing session keeps working while its replacement subscribes.
func (s *Subscriber) messageHandler(key []byte) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		s.handleMessage(msg, key)
	}
}

func (s *Subscriber) handleMessage(msg pahomqtt.Message, key []byte) {
	s.mu.RLock()
	handler := s.handler
	s.mu.RUnlock()

	report, ok, err := tuya.DecodeMessage(msg.Payload(), key)
	if err != nil {
		s.logger.Warn("dropping mq message", "topic", msg.Topic(), "error", err)
		return
	}
	if !ok {
		return
	}

	s.logger.Debug("status report received", "device", report.DeviceID, "codes", len(report.Status))
	if s.ReportReceived != nil {
		s.ReportReceived()
	}
	if handler != nil {
		handler(report)
	}
}

func buildClientOptions(cfg tuya.MQConfig, onMessage pahomqtt.MessageHandler) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.URL)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	opts.SetDefaultPublishHandler(onMessage)
	opts.SetOrderMatters(false)
	return opts
}
