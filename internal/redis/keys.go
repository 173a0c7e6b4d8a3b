package redisx

import "fmt"

const ns = "tixgate:v1"

func KeyStats() string {
	return ns + ":stats"
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func KeyIdemApprove(requestID, idemKey string) string {
	return fmt.Sprintf("%s:idem:approve:%s:%s", ns, requestID, idemKey)
}

func ChannelTicketEvents() string {
	return ns + ":tickets:events"
}
