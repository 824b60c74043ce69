package service

// StaticCalendar blocks a fixed set of slots. A date mapped to no hours is blocked all day.
type StaticCalendar struct {
	days map[string]map[int]struct{}
}

func NewStaticCalendar(blocked map[string][]int) *StaticCalendar {
	days := make(map[string]map[int]struct{}, len(blocked))
	for date, hours := range blocked {
		set := make(map[int]struct{}, len(hours))
		for _, h := range hours {
			set[h] = struct{}{}
		}
		days[date] = set
	}
	return &StaticCalendar{days: days}
}

func (c *StaticCalendar) IsBlocked(date string, hour int) bool {
	if c == nil {
		return false
	}
	hours, ok := c.days[date]
	if !ok {
		return false
	}
	if len(hours) == 0 {
		return true
	}
	_, blocked := hours[hour]
	return blocked
}
