package dto

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// FlexString принимает как строку, так и число (SmartMoving отдаёт номера по-разному).
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = FlexString(str)
		return nil
	}
	// Числа, булевы и прочее сохраняем как есть.
	*s = FlexString(strings.TrimSpace(string(data)))
	return nil
}

func (s FlexString) String() string { return string(s) }

// JobAddress - адрес работы: строка или объект с полным адресом.
type JobAddress string

func (a *JobAddress) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*a = JobAddress(strings.TrimSpace(str))
		return nil
	}
	var obj struct {
		FullAddress string `json:"fullAddress"`
		Address     string `json:"address"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.FullAddress != "" {
		*a = JobAddress(strings.TrimSpace(obj.FullAddress))
	} else {
		*a = JobAddress(strings.TrimSpace(obj.Address))
	}
	return nil
}

type EstimatedTotal struct {
	FinalTotal decimal.NullDecimal `json:"finalTotal"`
}

type Branch struct {
	ID   FlexString `json:"id"`
	Name string     `json:"name"`
}

type Job struct {
	ID                FlexString      `json:"id"`
	JobNumber         FlexString      `json:"jobNumber"`
	JobDate           FlexString      `json:"jobDate"`
	JobAddresses      []JobAddress    `json:"jobAddresses"`
	ServiceType       FlexString      `json:"serviceType"`
	TruckNumber       string          `json:"truckNumber"`
	EstimatedDuration FlexString      `json:"estimatedDuration"`
	EstimatedTotal    *EstimatedTotal `json:"estimatedTotal"`
	Confirmed         bool            `json:"confirmed"`

	// Raw - исходный JSON работы без изменений.
	Raw json.RawMessage `json:"-"`
}

func (j *Job) UnmarshalJSON(data []byte) error {
	type jobAlias Job
	var alias jobAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*j = Job(alias)
	j.Raw = append(json.RawMessage(nil), data...)
	return nil
}

type Opportunity struct {
	ID             FlexString      `json:"id"`
	QuoteNumber    FlexString      `json:"quoteNumber"`
	Status         FlexString      `json:"status"`
	EstimatedTotal *EstimatedTotal `json:"estimatedTotal"`
	Branch         *Branch         `json:"branch"`
	Jobs           []Job           `json:"jobs"`
}

type Customer struct {
	ID            FlexString    `json:"id"`
	Name          string        `json:"name"`
	PhoneNumber   string        `json:"phoneNumber"`
	EmailAddress  string        `json:"emailAddress"`
	Opportunities []Opportunity `json:"opportunities"`
}

// CustomersResponse - ответ GET /api/customers.
type CustomersResponse struct {
	PageResults []Customer `json:"pageResults"`
	TotalPages  int        `json:"totalPages"`
	LastPage    bool       `json:"lastPage"`
}

// CustomerPage - одна страница клиентов в виде, удобном для движка синхронизации.
type CustomerPage struct {
	Customers  []Customer
	Page       int
	TotalPages int
	LastPage   bool
}
