package ha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// UpsertState creates or updates an entity state over the REST API
func (c *Client) UpsertState(ctx context.Context, entityID, state string, attributes map[string]interface{}) error {
	payload := map[string]interface{}{
		"state":      state,
		"attributes": attributes,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal state payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.restURL+"/states/"+entityID, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to set state for %s: %w", entityID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("unexpected status %d setting state for %s: %s", resp.StatusCode, entityID, snippet)
	}

	return nil
}

// RemoveState deletes an entity state over the REST API. An entity that
// is already gone is not an error.
func (c *Client) RemoveState(ctx context.Context, entityID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.restURL+"/states/"+entityID, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to remove state for %s: %w", entityID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("unexpected status %d removing state for %s: %s", resp.StatusCode, entityID, snippet)
	}

	return nil
}

// Ping checks that the REST API is reachable and the token is accepted
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.restURL+"/", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach Home Assistant: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from API root", resp.StatusCode)
	}

	return nil
}
