package models

// All lists every table owned by the service, in migration order.
func All() []any {
	return []any{
		&APIKey{},
		&ContentObject{},
		&AccessToken{},
		&QuotaCounter{},
		&RateLimitSample{},
		&AdNetwork{},
		&PendingAdGrant{},
		&AccessLog{},
		&Publisher{},
		&EarningRecord{},
		&Settings{},
		&RouteLimit{},
	}
}
