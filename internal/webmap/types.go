package webmap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// LayerID accepts both string and numeric ids, which web maps use interchangeably.
type LayerID string

func (id *LayerID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = LayerID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("layer id must be a string or number: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*id = LayerID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = LayerID(n.String())
	return nil
}

// OperationalLayer is a web map operational layer entry.
type OperationalLayer struct {
	ID         LayerID              `json:"id"`
	LayerType  string               `json:"layerType"`
	URL        string               `json:"url"`
	Visibility *bool                `json:"visibility"`
	Opacity    *float64             `json:"opacity"`
	Title      string               `json:"title"`
	ItemID     string               `json:"itemId"`
	Layers     []SublayerDefinition `json:"layers"`
}

// SublayerDefinition is one entry of an operational layer's "layers" list.
type SublayerDefinition struct {
	ID        int        `json:"id"`
	PopupInfo *PopupInfo `json:"popupInfo"`
}

type PopupInfo struct {
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	FieldInfos      []FieldInfo `json:"fieldInfos"`
	ShowAttachments bool        `json:"showAttachments"`
}

type FieldInfo struct {
	FieldName string `json:"fieldName"`
	Label     string `json:"label"`
	Visible   bool   `json:"visible"`
}
