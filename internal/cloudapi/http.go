// Package cloudapi supplies real net/http-backed implementations of
// thing.ThingsAPI and auth.API, each outbound call wrapped in its own
// named circuit breaker — grounded on the teacher's
// internal/performance/connection_pool.go getCircuitBreaker pattern.
package cloudapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"thinghub/internal/thing"
)

func newBreaker(name string, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// ThingsClient implements thing.ThingsAPI against the cloud's things REST
// service.
type ThingsClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger

	getBreaker    *gobreaker.CircuitBreaker
	createBreaker *gobreaker.CircuitBreaker
	deleteBreaker *gobreaker.CircuitBreaker
	resBreaker    *gobreaker.CircuitBreaker
}

// NewThingsClient builds a ThingsClient with one circuit breaker per
// operation category.
func NewThingsClient(baseURL string, timeout time.Duration, logger *zap.Logger) *ThingsClient {
	return &ThingsClient{
		baseURL:       baseURL,
		http:          &http.Client{Timeout: timeout},
		logger:        logger,
		getBreaker:    newBreaker("things-get", logger),
		createBreaker: newBreaker("things-create", logger),
		deleteBreaker: newBreaker("things-delete", logger),
		resBreaker:    newBreaker("things-resources", logger),
	}
}

type wireThing struct {
	ID            uuid.UUID            `json:"id"`
	SerialNumber  string                `json:"serial_number"`
	ThingTypeUUID uuid.UUID             `json:"thing_type_uuid"`
	Certificates  *thing.Certificates   `json:"certificates,omitempty"`
}

func (c *ThingsClient) GetThingBySerial(ctx context.Context, token, serial string) (*thing.Thing, error) {
	result, err := c.getBreaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/things?serial_number=%s", c.baseURL, serial), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return (*thing.Thing)(nil), nil
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("cloudapi: unexpected status %d fetching thing by serial", resp.StatusCode)
		}

		var wt wireThing
		if err := json.NewDecoder(resp.Body).Decode(&wt); err != nil {
			return nil, err
		}
		t := thing.Thing{ID: wt.ID, SerialNumber: wt.SerialNumber, ThingTypeUUID: wt.ThingTypeUUID, Certificates: wt.Certificates}
		return &t, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*thing.Thing), nil
}

func (c *ThingsClient) CreateThing(ctx context.Context, token string, tr thing.ThingRequest) (thing.Thing, error) {
	result, err := c.createBreaker.Execute(func() (interface{}, error) {
		body, err := json.Marshal(tr)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/things", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return nil, fmt.Errorf("cloudapi: unexpected status %d creating thing", resp.StatusCode)
		}

		var wt wireThing
		if err := json.NewDecoder(resp.Body).Decode(&wt); err != nil {
			return nil, err
		}
		return thing.Thing{ID: wt.ID, SerialNumber: wt.SerialNumber, ThingTypeUUID: wt.ThingTypeUUID, Certificates: wt.Certificates}, nil
	})
	if err != nil {
		return thing.Thing{}, err
	}
	return result.(thing.Thing), nil
}

func (c *ThingsClient) DeleteThing(ctx context.Context, token string, id uuid.UUID) error {
	_, err := c.deleteBreaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/things/%s", c.baseURL, id), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil, thing.ErrNotFound
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
			return nil, fmt.Errorf("cloudapi: unexpected status %d deleting thing", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}

func (c *ThingsClient) GetThingTypeResources(ctx context.Context, token string, thingTypeUUID uuid.UUID) ([]thing.Resource, error) {
	result, err := c.resBreaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/thing-types/%s/resources", c.baseURL, thingTypeUUID), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("cloudapi: unexpected status %d fetching thing type resources", resp.StatusCode)
		}

		var resources []thing.Resource
		if err := json.NewDecoder(resp.Body).Decode(&resources); err != nil {
			return nil, err
		}
		return resources, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]thing.Resource), nil
}

// AuthClient implements auth.API against the cloud's auth REST service.
type AuthClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger

	loginBreaker   *gobreaker.CircuitBreaker
	checkBreaker   *gobreaker.CircuitBreaker
	refreshBreaker *gobreaker.CircuitBreaker
}

// NewAuthClient builds an AuthClient with one circuit breaker per
// operation category.
func NewAuthClient(baseURL string, timeout time.Duration, logger *zap.Logger) *AuthClient {
	return &AuthClient{
		baseURL:        baseURL,
		http:           &http.Client{Timeout: timeout},
		logger:         logger,
		loginBreaker:   newBreaker("auth-login", logger),
		checkBreaker:   newBreaker("auth-check", logger),
		refreshBreaker: newBreaker("auth-refresh", logger),
	}
}

func (c *AuthClient) Login(ctx context.Context, username, password string) (string, error) {
	result, err := c.loginBreaker.Execute(func() (interface{}, error) {
		body, err := json.Marshal(map[string]string{"username": username, "password": password})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("cloudapi: unexpected status %d logging in", resp.StatusCode)
		}

		var out struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, err
		}
		return out.Token, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *AuthClient) Check(ctx context.Context, token string) error {
	_, err := c.checkBreaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/check", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("cloudapi: token rejected with status %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}

func (c *AuthClient) Refresh(ctx context.Context, token string) (string, error) {
	result, err := c.refreshBreaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/refresh", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("cloudapi: unexpected status %d refreshing token", resp.StatusCode)
		}

		var out struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, err
		}
		return out.Token, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}
