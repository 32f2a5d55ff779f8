package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/models"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
)

// RestApiExtractor fetches records from a JSON endpoint. The records path
// ("data.items" style) locates the array inside the response body; numbers
// are kept in their literal form so tolerance comparison is not distorted
// by float round-tripping.
type RestApiExtractor struct{}

func (e *RestApiExtractor) Extract(ctx context.Context, system *models.SourceSystem) ([]Record, error) {
	conn := system.Connection.RestApi
	if conn == nil {
		return nil, fmt.Errorf("system %s has no rest connection", system.Code)
	}

	body, err := e.fetch(ctx, conn)
	if err != nil {
		return nil, err
	}

	items, err := locateRecords(body, conn.RecordsPath)
	if err != nil {
		return nil, fmt.Errorf("system %s: %w", system.Code, err)
	}

	records := make([]Record, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("system %s: record %d is not a JSON object", system.Code, i)
		}
		record := make(Record, len(obj))
		for key, value := range obj {
			strValue, err := stringifyJSONValue(value)
			if err != nil {
				return nil, fmt.Errorf("system %s: record %d field %s: %w", system.Code, i, key, err)
			}
			record[key] = strValue
		}
		records = append(records, record)
	}
	return records, nil
}

func (e *RestApiExtractor) TestConnection(ctx context.Context, system *models.SourceSystem) error {
	conn := system.Connection.RestApi
	if conn == nil {
		return fmt.Errorf("system %s has no rest connection", system.Code)
	}
	body, err := e.fetch(ctx, conn)
	if err != nil {
		return err
	}
	_, err = locateRecords(body, conn.RecordsPath)
	return err
}

func (e *RestApiExtractor) fetch(ctx context.Context, conn *models.RestApiConnection) (interface{}, error) {
	timeout := 30 * time.Second
	if conn.TimeoutSeconds > 0 {
		timeout = time.Duration(conn.TimeoutSeconds) * time.Second
	}
	client := &http.Client{Timeout: timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, conn.Url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url %s: %w", conn.Url, err)
	}
	req.Header.Set("Accept", "application/json")
	if conn.AuthHeaderName != "" {
		req.Header.Set(conn.AuthHeaderName, conn.AuthHeaderValue)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, models.Transient(fmt.Errorf("request to %s failed: %w", conn.Url, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, models.Transient(fmt.Errorf("%s returned status %d", conn.Url, resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", conn.Url, resp.StatusCode)
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var body interface{}
	if err := decoder.Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid JSON from %s: %w", conn.Url, err)
	}
	return body, nil
}

// locateRecords walks the dot-separated path down to the record array. An
// empty path means the body itself is the array.
func locateRecords(body interface{}, path string) ([]interface{}, error) {
	current := body
	if path != "" {
		for _, segment := range strings.Split(path, ".") {
			obj, ok := current.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("records path segment %q does not point at an object", segment)
			}
			next, exists := obj[segment]
			if !exists {
				return nil, fmt.Errorf("records path segment %q not found in response", segment)
			}
			current = next
		}
	}
	items, ok := current.([]interface{})
	if !ok {
		return nil, fmt.Errorf("records path %q does not point at an array", path)
	}
	return items, nil
}

func stringifyJSONValue(value interface{}) (*string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return stringPtr(v), nil
	case json.Number:
		return stringPtr(v.String()), nil
	case bool:
		if v {
			return stringPtr("true"), nil
		}
		return stringPtr("false"), nil
	default:
		// nested objects and arrays are compared as their JSON text
		text, err := utils.MarshalToJSON(v)
		if err != nil {
			return nil, err
		}
		return stringPtr(text), nil
	}
}
