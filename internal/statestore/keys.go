package statestore

import "fmt"

const (
	botPrefix = "bot:"
)

func stateKey(botID string) string        { return fmt.Sprintf("bot:%s:state", botID) }
func initConfigKey(botID string) string    { return fmt.Sprintf("bot:%s:init_config", botID) }
func agentConfigKey(botID string) string   { return fmt.Sprintf("bot:%s:setup_config", botID) }
func lockStartingKey(botID string) string  { return fmt.Sprintf("lock:bot:%s:starting", botID) }
func lockStoppingKey(botID string) string  { return fmt.Sprintf("lock:bot:%s:stopping", botID) }
func historyKey(model string) string       { return fmt.Sprintf("history:%s", model) }
func sessionDataKey(sessionID string) string {
	return fmt.Sprintf("session:%s:data", sessionID)
}
