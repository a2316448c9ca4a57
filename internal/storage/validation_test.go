package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Veraticus/beanschedule/internal/model"
)

func TestValidateContext(t *testing.T) {
	tests := []struct {
		ctx     context.Context
		name    string
		wantErr bool
	}{
		{
			name:    "valid context",
			ctx:     context.Background(),
			wantErr: false,
		},
		{
			name:    "nil context",
			ctx:     nil,
			wantErr: true,
		},
		{
			name: "canceled context still valid",
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			}(),
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateContext(tt.ctx)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateContext() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateString(t *testing.T) {
	tests := []struct {
		name    string
		str     string
		wantErr bool
	}{
		{name: "valid string", str: "test"},
		{name: "empty string", str: "", wantErr: true},
		{name: "whitespace only", str: "   \t", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateString(tt.str, "param")
			if (err != nil) != tt.wantErr {
				t.Errorf("validateString() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrEmptyString) {
				t.Errorf("validateString() error = %v, want ErrEmptyString", err)
			}
		})
	}
}

func TestValidateTransactions(t *testing.T) {
	valid := createTestTransactions(2)

	tests := []struct {
		want error
		name string
		txns []model.Transaction
	}{
		{name: "valid", txns: valid},
		{name: "nil slice", txns: nil, want: ErrNilParameter},
		{name: "empty slice", txns: []model.Transaction{}, want: ErrEmptySlice},
		{name: "second invalid", txns: []model.Transaction{valid[0], {ID: "x"}}, want: ErrInvalidTransaction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateTransactions(tt.txns)
			if tt.want == nil {
				if err != nil {
					t.Errorf("validateTransactions() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("validateTransactions() error = %v, want %v", err, tt.want)
			}
		})
	}

	if err := validateTransaction(nil); !errors.Is(err, ErrNilParameter) {
		t.Errorf("validateTransaction(nil) error = %v, want ErrNilParameter", err)
	}
}

func TestValidateReconciliationRun_AcceptsAllStatuses(t *testing.T) {
	run := &model.ReconciliationRun{RanAt: time.Now(), Start: date(time.January, 1), End: date(time.January, 1)}
	outcomes := []model.ReconciliationOutcome{
		{ScheduleID: "a", Status: StatusMatched},
		{ScheduleID: "b", Status: StatusMissing},
		{ScheduleID: "c", Status: StatusSkipped},
	}
	if err := validateReconciliationRun(run, outcomes); err != nil {
		t.Errorf("validateReconciliationRun() error = %v", err)
	}
}
