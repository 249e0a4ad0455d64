package service

import "time"

func (s *WebhookService) SetClock(now func() time.Time) { s.now = now }
func (s *SweeperService) SetClock(now func() time.Time) { s.now = now }
func (s *AdminService) SetClock(now func() time.Time)   { s.now = now }
func (s *StatusService) SetClock(now func() time.Time)  { s.now = now }
