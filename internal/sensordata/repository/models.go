package repository

// DefaultCounterName is the counter row that issues sensor data ids.
const DefaultCounterName = "sensor_data"

// RecordRow is the durable form of a record: the id and its encoded bytes.
type RecordRow struct {
	ID      uint64 `gorm:"column:id;primaryKey;autoIncrement:false"`
	Payload []byte `gorm:"column:payload;not null"`
}

func (RecordRow) TableName() string { return "sensor_records" }

// CounterRow holds the next id to issue for a named sequence.
type CounterRow struct {
	Name  string `gorm:"column:name;primaryKey;size:64"`
	Value uint64 `gorm:"column:value;not null;default:0"`
}

func (CounterRow) TableName() string { return "id_counters" }
