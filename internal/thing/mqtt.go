package thing

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTConnector implements Connector using a real mutually-authenticated
// MQTT session per thing, grounded on the teacher's internal/messaging
// MQTTConfig/client wiring and internal/security/tls.go's certificate
// loading technique.
type MQTTConnector struct {
	host    string
	port    int
	certDir string
	logger  *zap.Logger
}

// NewMQTTConnector builds a Connector that dials host:port using client
// certificates written under certDir.
func NewMQTTConnector(host string, port int, certDir string, logger *zap.Logger) *MQTTConnector {
	return &MQTTConnector{host: host, port: port, certDir: certDir, logger: logger}
}

// Connect implements spec.md §4.3: write the three PEM bodies to disk at
// mode 0600, build a client-cert TLS config, configure paho with a 5s
// keep-alive and 10s reconnect interval, subscribe to every Sub resource at
// QoS 0, and route inbound payloads through onMessage.
func (c *MQTTConnector) Connect(ctx context.Context, meta MetaThing, onMessage func(Message)) (Session, error) {
	certs := meta.Thing.Certificates
	if certs == nil {
		return nil, fmt.Errorf("mqtt: thing %s has no certificates", meta.Thing.ID)
	}

	paths, err := writeCertFiles(c.certDir, meta.Thing.ID.String(), certs)
	if err != nil {
		return nil, fmt.Errorf("mqtt: failed to write certificate files: %w", err)
	}

	tlsCfg, err := buildTLSConfig(paths)
	if err != nil {
		return nil, fmt.Errorf("mqtt: failed to build tls config: %w", err)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tls://%s:%d", c.host, c.port))
	opts.SetClientID(meta.Thing.ID.String())
	opts.SetTLSConfig(tlsCfg)
	opts.SetKeepAlive(5 * time.Second)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		payload := strings.ToValidUTF8(string(msg.Payload()), "�")
		c.logger.Info("incoming mqtt message", zap.String("topic", msg.Topic()))
		onMessage(Message{Topic: msg.Topic(), Payload: payload})
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Warn("mqtt connection lost", zap.String("thing_id", meta.Thing.ID.String()), zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt: failed to connect: %w", token.Error())
	}

	var subs []string
	for _, r := range meta.Resources {
		if r.Method == MethodSub {
			subs = append(subs, r.URI)
		}
	}
	for _, uri := range subs {
		if token := client.Subscribe(uri, 0, nil); token.Wait() && token.Error() != nil {
			client.Disconnect(250)
			return nil, fmt.Errorf("mqtt: failed to subscribe to %s: %w", uri, token.Error())
		}
	}

	return &pahoSession{client: client, logger: c.logger, certPaths: paths}, nil
}

func writeCertFiles(certDir, id string, certs *Certificates) (CertFilePaths, error) {
	if err := os.MkdirAll(certDir, 0755); err != nil {
		return CertFilePaths{}, err
	}

	paths := CertFilePaths{
		CA:   filepath.Join(certDir, id+".ca.crt"),
		Cert: filepath.Join(certDir, id+".crt"),
		Key:  filepath.Join(certDir, id+".key"),
	}

	for _, pair := range [][2]string{
		{paths.CA, certs.CA},
		{paths.Cert, certs.Cert},
		{paths.Key, certs.Key},
	} {
		if err := writeCertFile(pair[0], pair[1]); err != nil {
			return CertFilePaths{}, err
		}
	}
	return paths, nil
}

func writeCertFile(path, body string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteString(body); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	return os.Chmod(path, 0600)
}

func buildTLSConfig(paths CertFilePaths) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(paths.Cert, paths.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	caPEM, err := os.ReadFile(paths.CA)
	if err != nil {
		return nil, fmt.Errorf("failed to read ca certificate: %w", err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("failed to parse ca certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caPool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// pahoSession adapts a paho mqtt.Client to the Session interface.
type pahoSession struct {
	client    mqtt.Client
	logger    *zap.Logger
	certPaths CertFilePaths
}

func (s *pahoSession) CertFiles() CertFilePaths { return s.certPaths }

func (s *pahoSession) Publish(topic string, payload []byte) error {
	token := s.client.Publish(topic, 0, false, payload)
	token.Wait()
	return token.Error()
}

func (s *pahoSession) Disconnect() {
	s.client.Disconnect(250)
}
