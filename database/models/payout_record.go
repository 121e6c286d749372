// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package models

import "time"

// PayoutRecord is the audit trail row written for every completed
// withdrawal transfer.
type PayoutRecord struct {
	ID        uint   `gorm:"primarykey"`
	Address   string `gorm:"index;size:64;not null"`
	Amount    uint64 `gorm:"not null"`
	CreatedAt time.Time
}

func (PayoutRecord) TableName() string {
	return "payout_record"
}
