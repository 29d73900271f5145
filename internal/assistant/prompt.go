package assistant

import (
	"fmt"
	"os"
	"strings"
)

// DefaultCapabilities is shown when no capabilities file is configured.
const DefaultCapabilities = "Система умеет: SQL-поиск по каталогу вин, web-поиск по винной теме, " +
	"публичные лайки и заметки по винам."

// LoadCapabilities reads the capabilities summary from path. An empty path,
// a missing file or an empty file yield DefaultCapabilities.
func LoadCapabilities(path string) (text, source string) {
	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if text := strings.TrimSpace(string(data)); text != "" {
				return text, path
			}
		}
	}
	return DefaultCapabilities, "builtin"
}

const promptRules = `Правила работы:
1) Только SELECT или WITH.
2) Для данных из локальной базы используй execute_sql и таблицу %[1]s.
3) Для строк-списков (grapes, recommendations, available_vintages) используй LIKE.
4) Не используй DDL/DML.
5) alcohol_pct уже целое число процента.
6) Если пользователь просит топ/список, сортируй явно и ограничивай выдачу.
7) Если пользователь просит полный список (полностью/весь список/без сокращений), нельзя сокращать ответ и писать '... и еще N'.
8) Если пользователь спрашивает о наличии в продаже, цене на полке, магазинах или другой внешней информации, используй search_web.
9) В ответе пользователю запрещено указывать URL, названия сайтов и любые веб-источники.
10) Для цены и наличия указывай, что это рыночные данные, которые могут отличаться по регионам/магазинам.
11) Если в локальной базе данных не найдено совпадений по названию вина, используй search_web, чтобы дать практичный ответ без ссылок.
12) Если пользователь просит поставить лайк/добавить заметку/показать заметки и лайки, используй инструменты публичных записей.
13) Если пользователь спрашивает о возможностях системы, выдай краткую сводку.
14) При поиске производителя учитывай возможные русские/латинские написания и делай фильтр с OR по вариантам.
15) Если вопрос не о вине, вежливо откажись и предложи винную тему.

Соответствия написаний производителей:
- шато ле гранд восток <-> Chateau le Grand Vostock
- абрау-дюрсо <-> Abrau-Durso
- эссе <-> Esse
`

var referenceColumns = []string{"wine_color", "sugar_style", "rating_status", "region", "price_quality"}

// buildSystemPrompt renders the table schema, the allowed filter values and
// the working rules.
func buildSystemPrompt(table, schema string, refs map[string][]string, capabilities string) string {
	var b strings.Builder
	b.WriteString("Ты винный ассистент. Поддерживай разговор на темы вина.\n\n")
	b.WriteString(schema)
	b.WriteString("\n\nСправочники (используй только эти значения в фильтрах):\n")
	for _, col := range referenceColumns {
		values := refs[col]
		if len(values) == 0 {
			fmt.Fprintf(&b, "- %s: []\n", col)
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", col, strings.Join(values, ", "))
	}
	fmt.Fprintf(&b, "- recommendations: %s\n\n", strings.Join(refs["recommendations"], ", "))
	fmt.Fprintf(&b, promptRules, table)
	b.WriteString("\nСводка возможностей системы:\n")
	b.WriteString(capabilities)
	return b.String()
}
