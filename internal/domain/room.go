package domain

import (
	"strings"

	"github.com/google/uuid"
)

// RoomKey - канонический ключ маршрутизации для приватной пары или группы.
// Для приватного чата ключ не зависит от порядка участников.
type RoomKey string

func PrivateRoomKey(a, b uuid.UUID) RoomKey {
	ids := []string{a.String(), b.String()}
	if ids[0] > ids[1] {
		ids[0], ids[1] = ids[1], ids[0]
	}
	return RoomKey("private:" + strings.Join(ids, ":"))
}

func GroupRoomKey(groupID uuid.UUID) RoomKey {
	return RoomKey("group:" + groupID.String())
}

func (k RoomKey) String() string {
	return string(k)
}

func (k RoomKey) IsGroup() bool {
	return strings.HasPrefix(string(k), "group:")
}
