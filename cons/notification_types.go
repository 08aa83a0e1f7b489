package cons

import (
	"strconv"
	"strings"
)

// 通知类别（notification.kind）
const (
	KindMessage     = "message"     // 新消息
	KindAppointment = "appointment" // 预约变更
	KindBilling     = "billing"     // 账单变更
	KindPresence    = "presence"    // 上线/下线
)

// ValidKind 判断通知类别是否合法
func ValidKind(kind string) bool {
	switch kind {
	case KindMessage, KindAppointment, KindBilling, KindPresence:
		return true
	}
	return false
}

// 用户角色
const (
	RolePatient   = "patient"
	RoleDoctor    = "doctor"
	RoleNurse     = "nurse"
	RoleAdmin     = "admin"
	RoleReception = "receptionist"
)

// IsPatient 是否患者
func IsPatient(role string) bool { return role == RolePatient }

// IsStaff 临床/行政人员统一归为 staff
func IsStaff(role string) bool {
	switch role {
	case RoleDoctor, RoleNurse, RoleAdmin, RoleReception:
		return true
	}
	return false
}

// 频道命名
// - 个人频道：user:<id>，同一用户的所有连接都订阅
// - 角色频道：staff / patients
const (
	PersonalChannelPrefix = "user:"
	ChannelStaff          = "staff"
	ChannelPatients       = "patients"
)

// PersonalChannel 返回用户个人频道名
func PersonalChannel(userID uint64) string {
	return PersonalChannelPrefix + strconv.FormatUint(userID, 10)
}

// RoleChannel 返回角色对应的频道；未知角色返回空串（不订阅角色频道）
func RoleChannel(role string) string {
	if IsPatient(role) {
		return ChannelPatients
	}
	if IsStaff(role) {
		return ChannelStaff
	}
	return ""
}

// IsReservedChannel 个人频道和角色频道由身份推导，客户端不能手动 join/leave
func IsReservedChannel(name string) bool {
	if strings.HasPrefix(name, PersonalChannelPrefix) {
		return true
	}
	return name == ChannelStaff || name == ChannelPatients
}
