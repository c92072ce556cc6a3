package riot

// The monitored key set is protocol contract shared with the CloudLink
// device profile, not configuration. Attributes are point values; the
// time-series keys also get a live subscription.
var attributeKeys = []string{
	"Cfg_Model_Bat",
	"Cfg_Brand_Inv",
	"active",
	"Sys_Inv_Op_Mode",
	"Cfg_Site_MOD_Con_to",
	"Sys_EM_Con",
	"Sys_Inv_Conn",
	"SYS_P_EM",
	"Release_Rev",
	"Cfg_DCC_Enabled",
	"Cfg_DCC_UseEM",
	"Remote_Set_Voltronic",
	"Cfg_EM_Num_Devices",
	"Sys_Inv_Con",
	"Sys_Bat_Con",
}

var timeSeriesKeys = []string{
	"Sys_P_PV",
	"Sys_P_Grid",
	"Sys_P_Load",
	"Sys_P_Bat",
	"Sys_V_Bat",
	"Sys_SOC",
	"Sys_Percent_Load",
	"Sys_Loc_Lat",
	"Sys_Loc_Lon",
	"Sys_P_NE",
}

const (
	keyTypeEntityField = "ENTITY_FIELD"
	keyTypeAttribute   = "ATTRIBUTE"
	keyTypeTimeSeries  = "TIME_SERIES"
)

// monitoredKeys returns the combined attribute + time-series key list in the
// order the device profile declares them.
func monitoredKeys() []entityKey {
	keys := make([]entityKey, 0, len(attributeKeys)+len(timeSeriesKeys))
	for _, k := range attributeKeys {
		keys = append(keys, entityKey{Type: keyTypeAttribute, Key: k})
	}
	for _, k := range timeSeriesKeys {
		keys = append(keys, entityKey{Type: keyTypeTimeSeries, Key: k})
	}
	return keys
}
