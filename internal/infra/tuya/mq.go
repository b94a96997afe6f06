package tuya

import (
	"context"
	"crypto/aes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tuya-lights/internal/domain"
)

// ErrDecrypt is returned for MQ payloads that cannot be decrypted.
var ErrDecrypt = errors.New("tuya mq: decrypt failed")

const protocolStatusReport = 4

// MQConfig is the broker access the open-hub hands out for one link.
type MQConfig struct {
	URL         string
	ClientID    string
	Username    string
	Password    string
	SourceTopic string
	ExpireAt    time.Time
}

// Key is the AES key for message version 1.0 payloads.
func (c MQConfig) Key() []byte {
	if len(c.Password) < 24 {
		return nil
	}
	return []byte(c.Password[8:24])
}

// GetMQConfig requests MQTT credentials for device messages on linkID.
func (c *Client) GetMQConfig(ctx context.Context, linkID string) (MQConfig, error) {
	if err := c.ensureToken(ctx); err != nil {
		return MQConfig{}, err
	}

	body, err := json.Marshal(map[string]any{
		"uid":                   c.UID(),
		"link_id":               linkID,
		"link_type":             "mqtt",
		"topics":                "device",
		"msg_encrypted_version": "1.0",
	})
	if err != nil {
		return MQConfig{}, fmt.Errorf("encoding mq request: %w", err)
	}

	result, err := c.call(ctx, http.MethodPost, "/v1.0/open-hub/access/config", body, true)
	if err != nil {
		return MQConfig{}, fmt.Errorf("fetching mq config: %w", err)
	}

	var cfg struct {
		URL         string            `json:"url"`
		ClientID    string            `json:"client_id"`
		Username    string            `json:"username"`
		Password    string            `json:"password"`
		ExpireTime  int64             `json:"expire_time"`
		SourceTopic map[string]string `json:"source_topic"`
	}
	if err := json.Unmarshal(result, &cfg); err != nil {
		return MQConfig{}, fmt.Errorf("parsing mq config: %w", err)
	}

	return MQConfig{
		URL:         cfg.URL,
		ClientID:    cfg.ClientID,
		Username:    cfg.Username,
		Password:    cfg.Password,
		SourceTopic: cfg.SourceTopic["device"],
		ExpireAt:    time.Now().Add(time.Duration(cfg.ExpireTime) * time.Second),
	}, nil
}

type mqMessage struct {
	Protocol int    `json:"protocol"`
	PV       string `json:"pv"`
	T        int64  `json:"t"`
	Data     string `json:"data"`
}

// DecodeMessage turns one MQ payload into a status report. ok is false for
// messages that are not status reports (online events, bizCode messages).
func DecodeMessage(payload, key []byte) (report domain.StatusReport, ok bool, err error) {
	var msg mqMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return domain.StatusReport{}, false, fmt.Errorf("parsing mq message: %w", err)
	}
	if msg.Protocol != protocolStatusReport {
		return domain.StatusReport{}, false, nil
	}

	cipherText, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		return domain.StatusReport{}, false, fmt.Errorf("%w: %w", ErrDecrypt, err)
	}
	plain, err := decryptECB(cipherText, key)
	if err != nil {
		return domain.StatusReport{}, false, err
	}

	var data struct {
		DevID  string                `json:"devId"`
		Status []domain.DeviceStatus `json:"status"`
	}
	if err := json.Unmarshal(plain, &data); err != nil {
		return domain.StatusReport{}, false, fmt.Errorf("parsing status report: %w", err)
	}

	return domain.StatusReport{DeviceID: data.DevID, Status: data.Status}, true, nil
}

// decryptECB decrypts AES-ECB with PKCS#7 padding. The standard library has
// no ECB mode, so blocks are decrypted one by one.
func decryptECB(cipherText, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecrypt, err)
	}
	size := block.BlockSize()
	if len(cipherText) == 0 || len(cipherText)%size != 0 {
		return nil, fmt.Errorf("%w: ciphertext is not a whole number of blocks", ErrDecrypt)
	}

	plain := make([]byte, len(cipherText))
	for i := 0; i < len(cipherText); i += size {
		block.Decrypt(plain[i:i+size], cipherText[i:i+size])
	}

	pad := int(plain[len(plain)-1])
	if pad == 0 || pad > size || pad > len(plain) {
		return nil, fmt.Errorf("%w: bad padding", ErrDecrypt)
	}
	for _, b := range plain[len(plain)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("%w: bad padding", ErrDecrypt)
		}
	}
	return plain[:len(plain)-pad], nil
}
