package thingsboard

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

// Device categories the dashboard knows about.
const (
	TypePool        = "pool"
	TypePump        = "pump"
	TypeEnergyMeter = "energy_meter"
)

// EntityID is a backend entity id. ThingsBoard serialises ids as
// {"entityType": "DEVICE", "id": "<uuid>"}; plain strings are accepted too.
type EntityID string

// UnmarshalJSON accepts either a string or an {"id": ...} object.
func (id *EntityID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*id = EntityID(obj.ID)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*id = EntityID(s)
	return nil
}

// Device is a backend device record.
type Device struct {
	ID             EntityID       `json:"id"`
	Name           string         `json:"name"`
	Type           string         `json:"type"`
	Label          string         `json:"label,omitempty"`
	CreatedTime    int64          `json:"createdTime"`
	AdditionalInfo map[string]any `json:"additionalInfo,omitempty"`
}

// Page is one page of a paged listing.
type Page[T any] struct {
	Data          []T  `json:"data"`
	TotalPages    int  `json:"totalPages"`
	TotalElements int  `json:"totalElements"`
	HasNext       bool `json:"hasNext"`
}

// ListDevices returns one page of tenant devices in backend order.
func (c *Client) ListDevices(ctx context.Context, pageSize, page int) ([]Device, error) {
	if pageSize < 1 {
		return nil, &ValidationError{Field: "pageSize", Message: "must be at least 1"}
	}
	if page < 0 {
		return nil, &ValidationError{Field: "page", Message: "must not be negative"}
	}

	var resp Page[Device]
	if err := c.Do(ctx, &Request{
		Method: http.MethodGet,
		Path:   "/tenant/devices",
		Query: url.Values{
			"pageSize": {strconv.Itoa(pageSize)},
			"page":     {strconv.Itoa(page)},
		},
		Op: "listDevices",
	}, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return []Device{}, nil
	}
	return resp.Data, nil
}

// ListDevicesByType fetches the first page of devices (the configured page
// size) and keeps those whose Type matches exactly. Devices beyond the
// first page are not seen.
func (c *Client) ListDevicesByType(ctx context.Context, deviceType string) ([]Device, error) {
	all, err := c.ListDevices(ctx, c.opts.PageSize, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Device, 0, len(all))
	for _, d := range all {
		if d.Type == deviceType {
			out = append(out, d)
		}
	}
	return out, nil
}

// DeviceByID fetches a single device.
func (c *Client) DeviceByID(ctx context.Context, id string) (*Device, error) {
	if id == "" {
		return nil, &ValidationError{Field: "deviceId", Message: "is required"}
	}
	var d Device
	if err := c.Do(ctx, &Request{
		Method: http.MethodGet,
		Path:   "/device/" + url.PathEscape(id),
		Op:     "deviceById",
	}, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
