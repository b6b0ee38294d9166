package models

import (
	"encoding/json"
	"time"
)

// EventType 对外推送的消息类型
type EventType string

const (
	EventConnected     EventType = "connected"
	EventRoundStart    EventType = "round_start"
	EventBettingClosed EventType = "betting_closed"
	EventRoundEnd      EventType = "round_end"
	EventTransaction   EventType = "transaction"
	EventPastWinners   EventType = "past_winners"
)

// Event 事件总线上流转的消息
type Event struct {
	Type        EventType   `json:"type"`
	Data        interface{} `json:"data,omitempty"`
	RoundNumber int64       `json:"-"`
	CreatedAt   time.Time   `json:"-"`
}

// RoundStartData 回合开始
type RoundStartData struct {
	RoundNumber   int64            `json:"roundNumber"`
	Multipliers   map[Zone]float64 `json:"multipliers"`
	EndsAt        int64            `json:"endsAt"` // 计分窗口结束，毫秒时间戳
	BettingEndsAt int64            `json:"bettingEndsAt"`
}

// BettingClosedData 下注窗口关闭
type BettingClosedData struct {
	RoundNumber int64 `json:"roundNumber"`
}

// RoundEndData 回合结束
type RoundEndData struct {
	RoundNumber int64              `json:"roundNumber"`
	Winner      Zone               `json:"winner"`
	Scores      map[Zone]ZoneScore `json:"scores"`
}

// PastWinnersData 历史胜者列表
type PastWinnersData struct {
	Winners []*PastWinner `json:"winners"`
}

// NewConnectedEvent 客户端连上推送通道后的第一条消息
func NewConnectedEvent() *Event {
	return &Event{Type: EventConnected, CreatedAt: time.Now()}
}

// NewRoundStartEvent 创建回合开始事件
func NewRoundStartEvent(data *RoundStartData) *Event {
	return &Event{Type: EventRoundStart, Data: data, RoundNumber: data.RoundNumber, CreatedAt: time.Now()}
}

// NewBettingClosedEvent 创建下注关闭事件
func NewBettingClosedEvent(roundNumber int64) *Event {
	return &Event{
		Type:        EventBettingClosed,
		Data:        &BettingClosedData{RoundNumber: roundNumber},
		RoundNumber: roundNumber,
		CreatedAt:   time.Now(),
	}
}

// NewRoundEndEvent 创建回合结束事件
func NewRoundEndEvent(data *RoundEndData) *Event {
	return &Event{Type: EventRoundEnd, Data: data, RoundNumber: data.RoundNumber, CreatedAt: time.Now()}
}

// NewTransactionEvent 创建交易分类事件
func NewTransactionEvent(tx *ClassifiedTransaction, roundNumber int64) *Event {
	return &Event{Type: EventTransaction, Data: tx, RoundNumber: roundNumber, CreatedAt: time.Now()}
}

// NewPastWinnersEvent 创建历史胜者事件
func NewPastWinnersEvent(winners []*PastWinner) *Event {
	if winners == nil {
		winners = []*PastWinner{}
	}
	return &Event{Type: EventPastWinners, Data: &PastWinnersData{Winners: winners}, CreatedAt: time.Now()}
}

// Marshal 序列化为推送格式 {"type":..., "data":...}
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ToKafkaMessage 转换为Kafka消息格式
func (e *Event) ToKafkaMessage() map[string]interface{} {
	return map[string]interface{}{
		"type":         e.Type,
		"round_number": e.RoundNumber,
		"created_at":   e.CreatedAt.Unix(),
		"data":         e.Data,
	}
}
