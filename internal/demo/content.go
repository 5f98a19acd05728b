package demo

import "strings"

// AISchoolsUK is the built-in Ukrainian demo lesson about bringing AI into
// schools. Every freshly requested trainer starts from this content.
var AISchoolsUK = Trainer{
	Title:            "Впровадження штучного інтелекту в школах",
	TrainingLanguage: "uk",
	AvatarKey:        "female_friendly",
	Model:            "gpt-4.1",
	OpeningTextTemplate: "Привіт! Я ваш віртуальний друг, який хоче допомогти вам не відстати від сучасних технологій " +
		"і своєчасно впровадити штучний інтелект в освіті. " +
		"Давайте спочатку познайомимось — як вас звати?",
	Criteria: []TrainingCriterion{
		{
			Name: "Знайомство",
			Questions: []string{
				"Яку роль ти виконуєш у своїй школі: вчитель, директор, чи адміністратор?",
				"Наскільки добре ти розумієш можливості AI у школах: від 1 до 10?",
			},
		},
		{
			Name: "Цілі впровадження",
			Questions: []string{
				"Що для тебе важливіше: економія часу вчителів, персоналізація навчання, чи підвищення результатів учнів?",
				"Які конкретні проблеми хочеш вирішити за допомогою AI?",
			},
		},
		{
			Name: "Бар'єри",
			Questions: []string{
				"Що зараз найбільше стримує впровадження: бюджет, навички вчителів, чи технічна інфраструктура?",
				"Чи є в школі вже якісь цифрові інструменти (електронний журнал, LMS)?",
			},
		},
		{
			Name: "Практичні кроки",
			Questions: []string{
				"Хочеш почути про конкретні інструменти AI для твоєї ситуації?",
				"Готовий спробувати пілотний проект на 2-4 тижні?",
			},
		},
	},
}

// RenderOpeningText substitutes the visitor's name into an opening-text
// template.
func RenderOpeningText(template, name string) string {
	return strings.ReplaceAll(template, "{name}", name)
}
