package services

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// MessageKey identifies a user-facing string.
type MessageKey string

const (
	MsgAutoProcessed          MessageKey = "withdrawal.auto_processed"
	MsgQueuedForAutoPayout    MessageKey = "withdrawal.queued_auto"
	MsgQueuedForReview        MessageKey = "withdrawal.queued_review"
	MsgTransactionDescription MessageKey = "transaction.withdrawal_description"
	MsgDuplicateInProgress    MessageKey = "request.duplicate_in_progress"
	MsgInvalidRequest         MessageKey = "request.invalid"
)

var catalog = map[string]map[MessageKey]string{
	"ar": {
		MessageKey(KindUnauthorized):         "يجب تسجيل الدخول",
		MessageKey(KindAccountNotFound):      "الملف الشخصي غير موجود",
		MessageKey(KindMissingField):         "يرجى إدخال جميع الحقول المطلوبة",
		MessageKey(KindAmountBelowMinimum):   "الحد الأدنى للسحب هو ${minimumWithdrawal}",
		MessageKey(KindAmountAboveMaximum):   "الحد الأقصى للسحب هو ${maximumWithdrawal}",
		MessageKey(KindInsufficientBalance):  "رصيدك غير كافٍ",
		MessageKey(KindCooldownActive):       "يمكنك السحب مرة واحدة كل {cooldownHours} ساعة. يتبقى {remainingHours} ساعة",
		MessageKey(KindInvalidWalletAddress): "عنوان المحفظة غير صحيح",
		MessageKey(KindPersistenceFailure):   "حدث خطأ أثناء إنشاء طلب السحب",
		MessageKey(KindInternal):             "حدث خطأ غير متوقع، يرجى المحاولة لاحقاً",
		MsgAutoProcessed:                     "تم إرسال طلب السحب ومعالجته تلقائياً",
		MsgQueuedForAutoPayout:               "تم إرسال طلب السحب للمعالجة التلقائية",
		MsgQueuedForReview:                   "تم إرسال طلب السحب للمراجعة",
		MsgTransactionDescription:            "سحب {currency} إلى {address}...",
		MsgDuplicateInProgress:               "طلبك قيد المعالجة بالفعل",
		MsgInvalidRequest:                    "طلب غير صالح",
	},
	"en": {
		MessageKey(KindUnauthorized):         "Authorization required",
		MessageKey(KindAccountNotFound):      "Profile not found",
		MessageKey(KindMissingField):         "Missing required fields",
		MessageKey(KindAmountBelowMinimum):   "The minimum withdrawal is ${minimumWithdrawal}",
		MessageKey(KindAmountAboveMaximum):   "The maximum withdrawal is ${maximumWithdrawal}",
		MessageKey(KindInsufficientBalance):  "Insufficient balance",
		MessageKey(KindCooldownActive):       "You can withdraw once every {cooldownHours} hours. {remainingHours} hours remaining",
		MessageKey(KindInvalidWalletAddress): "Invalid wallet address",
		MessageKey(KindPersistenceFailure):   "Failed to create the withdrawal request",
		MessageKey(KindInternal):             "Something went wrong, please try again later",
		MsgAutoProcessed:                     "Withdrawal submitted and processed automatically",
		MsgQueuedForAutoPayout:               "Withdrawal submitted for automatic processing",
		MsgQueuedForReview:                   "Withdrawal submitted for review",
		MsgTransactionDescription:            "Withdraw {currency} to {address}...",
		MsgDuplicateInProgress:               "Your request is already being processed",
		MsgInvalidRequest:                    "Invalid request",
	},
}

var supportedLanguages = []language.Tag{language.Arabic, language.English}

// Messages renders catalog entries for a negotiated language.
type Messages struct {
	defaultLang string
	matcher     language.Matcher
}

func NewMessages(defaultLang string) *Messages {
	if _, ok := catalog[defaultLang]; !ok {
		defaultLang = "ar"
	}
	return &Messages{
		defaultLang: defaultLang,
		matcher:     language.NewMatcher(supportedLanguages),
	}
}

// Default returns the configured fallback language.
func (m *Messages) Default() string {
	return m.defaultLang
}

// Negotiate picks a catalog language from an Accept-Language header.
func (m *Messages) Negotiate(acceptLanguage string) string {
	if acceptLanguage == "" {
		return m.defaultLang
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return m.defaultLang
	}
	_, index, confidence := m.matcher.Match(tags...)
	if confidence == language.No {
		return m.defaultLang
	}
	base, _ := supportedLanguages[index].Base()
	return base.String()
}

// Text renders key in lang, substituting {name} placeholders from params.
func (m *Messages) Text(lang string, key MessageKey, params map[string]any) string {
	entries, ok := catalog[lang]
	if !ok {
		entries = catalog[m.defaultLang]
	}
	text, ok := entries[key]
	if !ok {
		text = string(key)
	}
	if len(params) == 0 {
		return text
	}

	pairs := make([]string, 0, len(params)*2)
	for name, value := range params {
		pairs = append(pairs, "{"+name+"}", fmt.Sprint(value))
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
