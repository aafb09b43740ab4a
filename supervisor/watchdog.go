package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	domainActivity "github.com/wafleet/wafleet/domains/activity"
	domainInstance "github.com/wafleet/wafleet/domains/instance"
)

// armWatchdog schedules the creation deadline for a new bot. A bot that is
// still unapproved and stuck in loading or error when the timer fires was
// abandoned mid-registration and gets cleaned up.
func (s *Supervisor) armWatchdog(botID string) {
	s.watchdogMu.Lock()
	defer s.watchdogMu.Unlock()

	if prev, ok := s.watchdogs[botID]; ok {
		prev.Stop()
	}
	s.watchdogs[botID] = time.AfterFunc(s.watchdogAfter, func() {
		s.fireWatchdog(botID)
	})
}

func (s *Supervisor) disarmWatchdog(botID string) {
	s.watchdogMu.Lock()
	defer s.watchdogMu.Unlock()
	if timer, ok := s.watchdogs[botID]; ok {
		timer.Stop()
		delete(s.watchdogs, botID)
	}
}

func (s *Supervisor) fireWatchdog(botID string) {
	s.watchdogMu.Lock()
	delete(s.watchdogs, botID)
	s.watchdogMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	bot, err := s.repo.GetByID(ctx, botID)
	if err != nil {
		// Already deleted through the normal path.
		return
	}
	if bot.ApprovalStatus != domainInstance.ApprovalPending {
		return
	}
	if bot.Status != domainInstance.StatusLoading && bot.Status != domainInstance.StatusError {
		return
	}

	logrus.Warnf("[SUPERVISOR] Watchdog expired for bot %s (%s), cleaning up", bot.ID, bot.Name)

	if w := s.getWorker(botID); w != nil {
		if err := w.Stop(false); err != nil {
			logrus.Warnf("[SUPERVISOR] Watchdog worker teardown failed for bot %s: %v", botID, err)
		}
		s.mu.Lock()
		delete(s.workers, botID)
		s.mu.Unlock()
	}

	// Full rollback: the registration also wrote a god-registry row and
	// bumped the server count.
	if err := s.registrar.RollbackCrossServerRegistration(ctx, bot.PhoneNumber, bot.ID, bot.ServerName); err != nil {
		logrus.Errorf("[SUPERVISOR] Watchdog rollback failed for bot %s: %v", botID, err)
		return
	}

	_ = s.activity.Log(ctx, &domainActivity.Activity{
		Type:          domainActivity.TypeAutoCleanup,
		Description:   fmt.Sprintf("bot %s stuck in %s past the creation deadline", bot.Name, bot.Status),
		BotInstanceID: botID,
	})
	s.emit(domainInstance.EventBotDeleted, map[string]any{"bot_id": botID, "reason": "auto_cleanup"})
}
