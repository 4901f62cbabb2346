// Package progression содержит доменную модель геймификации: XP, уровни и серии.
//
// Пакет определяет:
//
//   - Сущности: XpTransaction (неизменяемая запись журнала), UserStats (кэш свёртки журнала)
//   - Чистые функции: LevelOf, NextStreak, Rebuild
//   - Интерфейсы репозиториев: LedgerRepository, StatsRepository
//
// # Инварианты
//
// Журнал XP только дополняется. UserStats всегда согласован с формулой уровня:
//
//	level == total_xp/100 + 1
//	current_level_xp == total_xp % 100
//
// Все изменения UserStats проходят через StatsRepository.Update, который
// сериализует запись для одного пользователя.
package progression
