package state

// Trigger represents an event that causes a state transition.
type Trigger string

const (
	TriggerDial           Trigger = "dial"
	TriggerIncoming       Trigger = "incoming"
	TriggerAnswer         Trigger = "answer"
	TriggerDecline        Trigger = "decline"
	TriggerRemoteJoined   Trigger = "remote_joined"
	TriggerHangup         Trigger = "hangup"
	TriggerMediaLeft      Trigger = "media_left"
	TriggerRemoteEnded    Trigger = "remote_ended"
	TriggerRemoteRejected Trigger = "remote_rejected"
	TriggerRemoteMissed   Trigger = "remote_missed"
	TriggerRingTimeout    Trigger = "ring_timeout"
	TriggerFail           Trigger = "fail"
	TriggerReset          Trigger = "reset"
)

// String returns the string representation of the trigger.
func (t Trigger) String() string {
	return string(t)
}
