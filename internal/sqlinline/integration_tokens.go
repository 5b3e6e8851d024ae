package sqlinline

const QSelectProviderCredential = `--sql fe2889d1-b6a4-4697-984e-3039a36f8e66
select token, coalesce(properties->>'webhook_secret', '')
from integration_tokens
where provider = $1::text
limit 1;
`

const QUpsertProviderCredential = `--sql 4a4c8b06-4113-4fd7-96ed-03bc104b91f3
insert into integration_tokens (provider, token, properties, created_at, updated_at)
values ($1::text, $2::text, jsonb_build_object('webhook_secret', $3::text), now(), now())
on conflict (provider) do update set
    token = excluded.token,
    properties = integration_tokens.properties || excluded.properties,
    updated_at = now();
`
