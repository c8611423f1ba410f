package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/devicelink-core/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "devicelink-test",
		},
		QoS:         1,
		TopicPrefix: "devicelink",
	}
}

// disconnectedClient has a real paho client that was never connected.
func disconnectedClient(t *testing.T) *Client {
	t.Helper()
	c := newClient(testConfig())
	c.client = pahomqtt.NewClient(c.options())
	return c
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Error(msg string, _ ...any) { l.add("ERROR " + msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.add("WARN " + msg) }

func (l *recordingLogger) add(s string) {
	l.mu.Lock()
	l.lines = append(l.lines, s)
	l.mu.Unlock()
}

func TestTopics(t *testing.T) {
	topics := NewTopics("devicelink")
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"DevicePresence", topics.DevicePresence(42), "devicelink/device/42/presence"},
		{"CommandStatus", topics.CommandStatus(7), "devicelink/command/7/status"},
		{"Control", topics.Control(42), "devicelink/control/42"},
		{"ControlWildcard", topics.ControlWildcard(), "devicelink/control/+"},
		{"SystemStatus", topics.SystemStatus(), "devicelink/system/status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestNewTopics_Prefix(t *testing.T) {
	if got := NewTopics("").Prefix; got != DefaultTopicPrefix {
		t.Errorf("empty prefix = %q, want %q", got, DefaultTopicPrefix)
	}
	if got := NewTopics("/site-a/").SystemStatus(); got != "site-a/system/status" {
		t.Errorf("SystemStatus() = %q", got)
	}
}

func TestTopics_ParseControl(t *testing.T) {
	topics := NewTopics("devicelink")
	tests := []struct {
		topic  string
		wantPK int64
		wantOK bool
	}{
		{"devicelink/control/12", 12, true},
		{"devicelink/control/0", 0, false},
		{"devicelink/control/-3", 0, false},
		{"devicelink/control/abc", 0, false},
		{"devicelink/control/", 0, false},
		{"devicelink/control/12/extra", 0, false},
		{"other/control/12", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			pk, ok := topics.ParseControl(tt.topic)
			if pk != tt.wantPK || ok != tt.wantOK {
				t.Errorf("ParseControl(%q) = (%d, %v), want (%d, %v)", tt.topic, pk, ok, tt.wantPK, tt.wantOK)
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "core"
	cfg.Auth.Password = "pw"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want tcp://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "devicelink-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "core" || opts.Password != "pw" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Error("AutoReconnect and CleanSession should be on")
	}
	if opts.MaxReconnectInterval != reconnectMaxDelay {
		t.Errorf("MaxReconnectInterval = %v, want %v", opts.MaxReconnectInterval, reconnectMaxDelay)
	}
	if opts.TLSConfig != nil && opts.TLSConfig.MinVersion != 0 {
		t.Error("TLS should not be configured without broker.tls")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)

	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config should require TLS 1.2")
	}
}

func TestConfigureLWT(t *testing.T) {
	c := newClient(testConfig())
	opts := c.options()

	if !opts.WillEnabled || !opts.WillRetained {
		t.Fatal("LWT should be enabled and retained")
	}
	if opts.WillTopic != "devicelink/system/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}
	var status systemStatus
	if err := json.Unmarshal(opts.WillPayload, &status); err != nil {
		t.Fatalf("will payload: %v", err)
	}
	if status.Status != "offline" || status.Reason != "unexpected_disconnect" || status.ClientID != "devicelink-test" {
		t.Errorf("will payload = %+v", status)
	}
}

func TestPublish_Validation(t *testing.T) {
	c := disconnectedClient(t)
	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("{}"), 1, ErrInvalidTopic},
		{"bad qos", "a/b", []byte("{}"), 3, ErrInvalidQoS},
		{"too large", "a/b", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "a/b", []byte("{}"), 1, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := disconnectedClient(t)
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Subscribe("a/+", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos error = %v", err)
	}
	if err := c.Subscribe("a/+", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
	if err := c.Subscribe("a/+", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v", err)
	}
	if c.HasSubscription("a/+") {
		t.Error("failed subscribe must not be tracked")
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe empty topic error = %v", err)
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	c := disconnectedClient(t)
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) = %v, want context.Canceled", err)
	}
}

func TestClose_NilAndDisconnected(t *testing.T) {
	var nilClient *Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("nil Close() = %v", err)
	}
	if err := disconnectedClient(t).Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestDeliver_ErrorAndPanic(t *testing.T) {
	c := newClient(testConfig())
	logger := &recordingLogger{}
	c.SetLogger(logger)

	c.deliver(func(string, []byte) error { return errors.New("bad payload") }, "t", nil)
	c.deliver(func(string, []byte) error { panic("boom") }, "t", nil)

	joined := strings.Join(logger.lines, "\n")
	if !strings.Contains(joined, "WARN MQTT handler returned error") {
		t.Errorf("missing handler error log: %q", joined)
	}
	if !strings.Contains(joined, "ERROR MQTT handler panic recovered") {
		t.Errorf("missing panic log: %q", joined)
	}
}

func TestStatusPayload(t *testing.T) {
	var status systemStatus
	if err := json.Unmarshal(statusPayload("online", "core-1", ""), &status); err != nil {
		t.Fatal(err)
	}
	if status.Status != "online" || status.ClientID != "core-1" || status.Reason != "" || status.Timestamp == "" {
		t.Errorf("status = %+v", status)
	}
}
