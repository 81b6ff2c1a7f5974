// Пакет model — сущности топологии ALBA: узлы, кластеры узлов, слоты и OSD,
// а также backend-ы и их пресеты.
//
// Сущности создаются только при первом появлении идентификатора в снимке
// и далее обновляются на месте (см. пакет differ). Производные статусы
// вычисляются чистыми функциями от полей сущности.
package model

// BuildContext — контекст построения сущности.
// Передаётся конструкторам вместо подмешивания полей в сырые записи снимка.
type BuildContext struct {
	// BackendID — alba_id backend-а, для которого строится топология
	BackendID string
	// NodeID — node_id узла-владельца
	NodeID string
	// SlotID — slot_id слота-владельца (для OSD)
	SlotID string
	// NodeMetadata — метаданные узла (возможности слотов)
	NodeMetadata NodeMetadata
}

// NodeMetadata — метаданные узла, общие для всех его слотов.
type NodeMetadata struct {
	// SlotCapabilities — что умеют слоты узла
	SlotCapabilities Capabilities `json:"slots"`
	// SupportedOSDTypes — типы OSD, которые можно создать на узле
	SupportedOSDTypes []string `json:"supported_osd_types,omitempty"`
}

// Capabilities — операции, доступные для слота.
type Capabilities struct {
	// Fill — слот можно инициализировать
	Fill bool `json:"fill"`
	// FillAdd — в инициализированный слот можно добавить OSD
	FillAdd bool `json:"fill_add"`
	// Clear — слот можно очистить
	Clear bool `json:"clear"`
}

// Unit — общий интерфейс узла и кластера узлов.
type Unit interface {
	// AllSlots возвращает все слоты, включая локальные заглушки
	AllSlots() []*Slot
	// CanInitializeAll — есть хотя бы один слот, который можно инициализировать
	CanInitializeAll() bool
	// CanClaimAll — есть хотя бы один OSD, который можно забрать
	CanClaimAll() bool
	// CanDelete — узел можно удалить
	CanDelete() bool
}
