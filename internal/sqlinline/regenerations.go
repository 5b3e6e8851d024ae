package sqlinline

// QConsumeRegeneration increments used while it is below the free limit.
// No row is returned once the limit is reached.
const QConsumeRegeneration = `--sql 7961fc51-b4b7-49e4-a17e-22f799da8729
insert into regeneration_counters (artifact_id, artifact_type, used, free_limit, created_at, updated_at)
select $1::text, $2::text, 1, $3::int, $4::timestamptz, $4::timestamptz
where $3::int > 0
on conflict (artifact_id) do update set
    used = regeneration_counters.used + 1,
    free_limit = excluded.free_limit,
    updated_at = excluded.updated_at
where regeneration_counters.used < excluded.free_limit
returning artifact_id, artifact_type, used, free_limit, created_at, updated_at;
`

const QSelectRegenerationCounter = `--sql f8eb59a1-87cb-4e7a-b776-88b69da3aedc
select artifact_id, artifact_type, used, free_limit, created_at, updated_at
from regeneration_counters
where artifact_id = $1::text;
`
