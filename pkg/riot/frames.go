package riot

import "encoding/json"

// Outbound frame shapes. These mirror the portal's entity-data websocket
// contract; field names and literal values are not negotiable.

type socketRequest struct {
	AuthCmd *authCommand        `json:"authCmd,omitempty"`
	Cmds    []entityDataCommand `json:"cmds"`
}

type authCommand struct {
	CmdID int    `json:"cmdId"`
	Token string `json:"token"`
}

type entityDataCommand struct {
	CmdID     int              `json:"cmdId"`
	Type      string           `json:"type"`
	Query     *entityDataQuery `json:"query,omitempty"`
	LatestCmd *latestCommand   `json:"latestCmd,omitempty"`
}

type entityDataQuery struct {
	EntityFilter entityFilter `json:"entityFilter"`
	PageLink     pageLink     `json:"pageLink"`
	EntityFields []entityKey  `json:"entityFields"`
	LatestValues []entityKey  `json:"latestValues"`
}

type entityFilter struct {
	Type             string     `json:"type"`
	ResolveMultiple  bool       `json:"resolveMultiple,omitempty"`
	DeviceNameFilter *string    `json:"deviceNameFilter,omitempty"`
	DeviceTypes      []string   `json:"deviceTypes,omitempty"`
	SingleEntity     *entityRef `json:"singleEntity,omitempty"`
}

type entityRef struct {
	ID         string `json:"id"`
	EntityType string `json:"entityType,omitempty"`
}

type pageLink struct {
	Page      int        `json:"page"`
	PageSize  int        `json:"pageSize"`
	Dynamic   bool       `json:"dynamic,omitempty"`
	SortOrder *sortOrder `json:"sortOrder,omitempty"`
}

type sortOrder struct {
	Key       entityKey `json:"key"`
	Direction string    `json:"direction"`
}

type entityKey struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

type latestCommand struct {
	Keys []entityKey `json:"keys"`
}

// Inbound frame shapes.

type socketMessage struct {
	CmdID  int             `json:"cmdId"`
	Data   *entityDataPage `json:"data"`
	Update []entityUpdate  `json:"update"`
}

type entityDataPage struct {
	Data []entityDataRow `json:"data"`
}

type entityDataRow struct {
	EntityID entityRef                            `json:"entityId"`
	Latest   map[string]map[string]telemetryValue `json:"latest"`
}

type entityUpdate struct {
	Latest     map[string]map[string]telemetryValue `json:"latest"`
	Timeseries map[string]telemetryValue            `json:"timeseries"`
}

// telemetryValue decodes the portal's per-key value container. Entries that
// are not `{ts, value}` objects (history arrays, bare scalars) simply carry
// no value and are skipped during the merge instead of failing the frame.
type telemetryValue struct {
	TS    int64
	Value interface{}
}

func (v *telemetryValue) UnmarshalJSON(b []byte) error {
	var obj struct {
		TS    int64       `json:"ts"`
		Value interface{} `json:"value"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil
	}
	v.TS = obj.TS
	v.Value = obj.Value
	return nil
}
