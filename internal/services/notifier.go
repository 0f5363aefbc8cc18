package services

// Notifier pushes realtime events to socket rooms. *notify.Hub satisfies it.
type Notifier interface {
	EmitToUser(userID, event string, payload any)
	EmitToMember(companyID, userID, event string, payload any)
	EmitToCompany(companyID, event string, payload any)
	EmitToCall(callID, event string, payload any)
	EmitToChat(chatID, event string, payload any)
}
